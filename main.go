package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Global gateway instance; tests substitute a fake.
var gateway Gateway

// Global model catalog cache instance.
var modelCatalog *CatalogCache

// inflight tracks conversations with a turn currently running. A
// conversation accepts one turn at a time.
var inflight = struct {
	mu  sync.Mutex
	ids map[string]bool
}{ids: make(map[string]bool)}

func tryBeginTurn(conversationID string) bool {
	inflight.mu.Lock()
	defer inflight.mu.Unlock()
	if inflight.ids[conversationID] {
		return false
	}
	inflight.ids[conversationID] = true
	return true
}

func endTurn(conversationID string) {
	inflight.mu.Lock()
	delete(inflight.ids, conversationID)
	inflight.mu.Unlock()
}

func main() {
	// Load configuration
	LoadConfig()

	gateway = NewOpenRouterGateway()
	modelCatalog = NewCatalogCache(CatalogCacheTTL)

	router := setupRouter()

	// Start server
	log.Printf("Starting LLM Consortium backend on port %s...", ServerPort)
	if err := router.Run(":" + ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// setupRouter builds the Gin router with middleware and all routes.
func setupRouter() *gin.Engine {
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	// CORS middleware with dynamic origin validation
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			// In production, use environment-configured origins
			if len(CORSAllowedOrigins) > 0 && CORSAllowedOrigins[0] != "" {
				for _, allowedOrigin := range CORSAllowedOrigins {
					if origin == allowedOrigin {
						return true
					}
				}
				return false
			}
			// In development, allow any localhost/127.0.0.1 origin
			return len(origin) > 0 && (len(origin) >= 16 && origin[:16] == "http://localhost" ||
				len(origin) >= 14 && origin[:14] == "http://127.0.0")
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	// Routes
	router.GET("/", healthCheck)
	router.GET("/api/conversations", listConversationsHandler)
	router.POST("/api/conversations", createConversationHandler)
	router.GET("/api/conversations/:id", getConversationHandler)
	router.DELETE("/api/conversations/:id", deleteConversationHandler)
	router.POST("/api/conversations/:id/message", sendMessageHandler)
	router.POST("/api/conversations/:id/message/stream", sendMessageStreamHandler)
	router.GET("/api/settings", getSettingsHandler)
	router.PUT("/api/settings", updateSettingsHandler)
	router.GET("/api/models", getModelsHandler)
	router.POST("/api/fetch-url", fetchURLHandler)

	return router
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Consortium API",
		"modes":   ModesList(),
	})
}

// listConversationsHandler lists all conversations with metadata only.
// GET /api/conversations - Returns array of conversation metadata sorted by date.
func listConversationsHandler(c *gin.Context) {
	conversations, err := ListConversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list conversations: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// createConversationHandler creates a new conversation.
// POST /api/conversations - Generates a new UUID and creates an empty conversation.
// Optional body: {"default_mode": "council"}.
func createConversationHandler(c *gin.Context) {
	var request struct {
		DefaultMode string `json:"default_mode"`
	}
	// Body is optional; ignore bind errors from an empty body.
	_ = c.ShouldBindJSON(&request)

	if request.DefaultMode != "" {
		if _, err := TopologyFor(request.DefaultMode); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Invalid default mode: %v", err),
			})
			return
		}
	}

	conversationID := uuid.New().String()
	conversation, err := CreateConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create conversation: %v", err),
		})
		return
	}

	if request.DefaultMode != "" {
		conversation.DefaultMode = request.DefaultMode
		if err := SaveConversation(conversation); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": fmt.Sprintf("Failed to save conversation: %v", err),
			})
			return
		}
	}

	c.JSON(http.StatusOK, conversation)
}

// getConversationHandler gets a specific conversation by ID.
// GET /api/conversations/:id - Returns full conversation including all turns.
func getConversationHandler(c *gin.Context) {
	conversationID := c.Param("id")

	conversation, err := GetConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}

	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// deleteConversationHandler deletes a conversation.
// DELETE /api/conversations/:id - Idempotent; deleting a missing conversation succeeds.
func deleteConversationHandler(c *gin.Context) {
	conversationID := c.Param("id")

	if err := DeleteConversation(conversationID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to delete conversation: %v", err),
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// buildTurnInput resolves a message request against the conversation's
// default mode and the persisted settings layer into a runnable turn.
func buildTurnInput(conversation *Conversation, request *SendMessageRequest) (TurnInput, error) {
	mode := request.Mode
	if mode == "" {
		mode = conversation.DefaultMode
	}
	if mode != "" {
		if _, err := TopologyFor(mode); err != nil {
			return TurnInput{}, err
		}
	}
	ms, resolvedMode := EffectiveModeSettings(mode)

	roles := request.Roles
	if len(roles) == 0 {
		roles = ms.Roles
	}

	params := request.Params
	if params.IterationCap == 0 {
		params.IterationCap = ms.IterationCap
	}
	if params.ConvergenceThreshold == nil {
		params.ConvergenceThreshold = ms.ConvergenceThreshold
	}
	if params.Weights == nil {
		params.Weights = ms.Weights
	}

	// Prior completed turns become conversational context for the new one.
	var history []GatewayMessage
	for _, turn := range conversation.Turns {
		if turn.Result == nil {
			continue
		}
		history = append(history,
			GatewayMessage{Role: "user", Content: turn.Query},
			GatewayMessage{Role: "assistant", Content: turn.Result.Content},
		)
	}

	return TurnInput{
		TurnID:  uuid.New().String(),
		Query:   request.Content,
		Mode:    resolvedMode,
		Roles:   roles,
		Params:  params,
		History: history,
	}, nil
}

func statusForRunError(err error) int {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// sendMessageHandler runs one full turn and returns it when done.
// POST /api/conversations/:id/message - Runs the resolved mode's topology
// and returns the completed turn at once. Use sendMessageStreamHandler for
// the SSE streaming version.
func sendMessageHandler(c *gin.Context) {
	conversationID := c.Param("id")

	// Parse request
	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	// Check if conversation exists
	conversation, err := GetConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	// One turn at a time per conversation
	if !tryBeginTurn(conversationID) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Conversation already has a turn in progress",
		})
		return
	}
	defer endTurn(conversationID)

	input, err := buildTurnInput(conversation, &request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	isFirstTurn := len(conversation.Turns) == 0

	orch := NewOrchestrator(gateway)
	turn, err := orch.Run(context.Background(), input, nil)
	if err != nil {
		c.JSON(statusForRunError(err), gin.H{
			"error": fmt.Sprintf("Turn failed: %v", err),
		})
		return
	}

	if err := AppendTurn(conversationID, turn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to save turn: %v", err),
		})
		return
	}

	// Generate title if first turn (run in background)
	if isFirstTurn {
		go generateTitleInBackground(conversationID, request.Content)
	}

	c.JSON(http.StatusOK, turn)
}

// sendMessageStreamHandler runs one turn and streams its progress via SSE.
// POST /api/conversations/:id/message/stream - Emits each orchestration
// event as it happens: stage-started, model-completed, model-failed,
// stage-completed, then turn-completed or turn-failed.
func sendMessageStreamHandler(c *gin.Context) {
	conversationID := c.Param("id")

	// Parse request
	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	// Check if conversation exists
	conversation, err := GetConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	if !tryBeginTurn(conversationID) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Conversation already has a turn in progress",
		})
		return
	}
	defer endTurn(conversationID)

	input, err := buildTurnInput(conversation, &request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	isFirstTurn := len(conversation.Turns) == 0

	// Start title generation in background if first turn
	var titleChan chan string
	if isFirstTurn {
		titleChan = make(chan string, 1)
		go func() {
			title, err := GenerateConversationTitle(context.Background(), gateway, request.Content)
			if err != nil {
				log.Printf("Failed to generate title: %v", err)
			} else if err := UpdateConversationTitle(conversationID, title); err != nil {
				log.Printf("Failed to save title: %v", err)
			} else {
				titleChan <- title
			}
			close(titleChan)
		}()
	}

	events := make(chan StageEvent, 16)
	var turn *Turn
	var runErr error
	done := make(chan struct{})

	orch := NewOrchestrator(gateway)
	go func() {
		turn, runErr = orch.Run(c.Request.Context(), input, events)
		close(events)
		close(done)
	}()

	for event := range events {
		sendSSEEvent(c, event)
	}
	<-done

	if runErr != nil {
		sendSSEError(c, fmt.Sprintf("Turn failed: %v", runErr))
		return
	}

	if err := AppendTurn(conversationID, turn); err != nil {
		sendSSEError(c, fmt.Sprintf("Failed to save turn: %v", err))
		return
	}

	// Wait for title if it was being generated
	if titleChan != nil {
		if title := <-titleChan; title != "" {
			sendSSEEvent(c, gin.H{"type": "title-complete", "title": title})
		}
	}
}

// sendSSEEvent sends a Server-Sent Event.
// Marshals data to JSON and writes as SSE format with "data: " prefix.
func sendSSEEvent(c *gin.Context, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal SSE event: %v", err)
		return
	}
	c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", string(jsonData)))
	c.Writer.Flush()
}

// sendSSEError sends an error event via SSE.
// Convenience wrapper for sending error-type SSE events.
func sendSSEError(c *gin.Context, message string) {
	sendSSEEvent(c, gin.H{"type": "error", "message": message})
}

// getSettingsHandler returns the effective settings: persisted overrides
// merged over built-in defaults.
// GET /api/settings
func getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, EffectiveSettings())
}

// updateSettingsHandler validates and persists new settings.
// PUT /api/settings - Body: full Settings document.
func updateSettingsHandler(c *gin.Context) {
	var settings Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	if err := SaveSettings(settings); err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Invalid settings: %v", err),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to save settings: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, EffectiveSettings())
}

// getModelsHandler returns the model catalog, cached with a TTL.
// GET /api/models - Query params: ?refresh=true (force cache refresh)
func getModelsHandler(c *gin.Context) {
	forceRefresh := c.Query("refresh") == "true"

	if !forceRefresh {
		if cached, ok := modelCatalog.Get(); ok {
			c.JSON(http.StatusOK, gin.H{
				"models":       cached,
				"last_updated": modelCatalog.GetLastUpdated(),
			})
			return
		}
	}

	log.Println("Fetching fresh model catalog...")
	models, err := FetchModelCatalog(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch model catalog: %v", err),
		})
		return
	}

	modelCatalog.Set(models)
	log.Printf("Cached %d models", len(models))

	c.JSON(http.StatusOK, gin.H{
		"models":       models,
		"last_updated": time.Now(),
	})
}

// fetchURLHandler fetches and extracts content from a given URL
// POST /api/fetch-url - Body: {"url": "https://..."}
func fetchURLHandler(c *gin.Context) {
	// Parse request
	var request struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	// Fetch content
	content, err := FetchURLContent(c.Request.Context(), request.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	// Return content
	c.JSON(http.StatusOK, gin.H{
		"content": content,
	})
}
