package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"bingo-service/internal/middleware"
	"bingo-service/internal/model"
	"bingo-service/internal/service"
	"bingo-service/internal/service/catalog"
	usersvc "bingo-service/internal/service/user"
	"bingo-service/internal/ws"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(services.Session, services.Hub)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", handler.Register)
			authGroup.POST("/login", handler.Login)
		}

		v1.GET("/lobby", handler.Lobby)

		protected := v1.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", handler.GetProfile)
			protected.PUT("/me", handler.UpdateProfile)
			protected.GET("/me/transactions", handler.ListTransactions)
			protected.GET("/me/audit", handler.Audit)

			protected.POST("/rooms/:id/join", handler.JoinRoom)

			protected.GET("/games/:id", handler.GameState)
			protected.POST("/games/:id/entry", handler.PurchaseEntry)
			protected.POST("/games/:id/mark", handler.MarkNumber)
			protected.POST("/games/:id/claim", handler.ClaimWin)
			protected.POST("/games/:id/prize", handler.ClaimPrize)
		}
	}

	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AuthRequired(), middleware.AdminRequired())
	{
		adminGroup.GET("/modes", handler.AdminListModes)
		adminGroup.POST("/modes", handler.AdminCreateMode)
		adminGroup.PUT("/modes/:id", handler.AdminUpdateMode)
		adminGroup.DELETE("/modes/:id", handler.AdminDeleteMode)

		adminGroup.GET("/rooms", handler.AdminListRooms)
		adminGroup.POST("/rooms", handler.AdminCreateRoom)
		adminGroup.PUT("/rooms/:id", handler.AdminUpdateRoom)
		adminGroup.DELETE("/rooms/:id", handler.AdminDeleteRoom)

		adminGroup.GET("/games", handler.AdminListGames)
		adminGroup.POST("/games/:id/start", handler.AdminStartGame)
		adminGroup.POST("/games/:id/pause", handler.AdminPauseGame)
		adminGroup.POST("/games/:id/resume", handler.AdminResumeGame)
		adminGroup.POST("/games/:id/call", handler.AdminCallNumber)
		adminGroup.POST("/games/:id/finish", handler.AdminFinishGame)

		adminGroup.GET("/users", handler.AdminListUsers)
		adminGroup.PUT("/users/:id", handler.AdminUpdateUser)
		adminGroup.POST("/users/:id/balance", handler.AdminAddBalance)
	}

	r.GET("/ws/games/:id", wsHandler.HandleGameWS)
}

type registerBody struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName"`
}

type loginBody struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type updateProfileBody struct {
	FullName *string `json:"fullName"`
	Phone    *string `json:"phone"`
}

type adminUpdateUserBody struct {
	FullName *string `json:"fullName"`
	Phone    *string `json:"phone"`
	Role     *string `json:"role"`
}

type markBody struct {
	Number int `json:"number" binding:"required"`
}

type finishBody struct {
	WinnerID *int64 `json:"winnerId"`
}

type balanceBody struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Note   string          `json:"note"`
}

type modeBody struct {
	Name                string `json:"name" binding:"required"`
	Description         string `json:"description"`
	PatternType         string `json:"patternType" binding:"required"`
	MaxPlayers          int    `json:"maxPlayers" binding:"required,min=1"`
	BallIntervalSeconds int    `json:"ballIntervalSeconds" binding:"required,min=1"`
	Active              *bool  `json:"active"`
}

func (b modeBody) toParams() catalog.ModeParams {
	active := true
	if b.Active != nil {
		active = *b.Active
	}
	return catalog.ModeParams{
		Name:                strings.TrimSpace(b.Name),
		Description:         b.Description,
		PatternType:         model.PatternType(strings.ToLower(strings.TrimSpace(b.PatternType))),
		MaxPlayers:          b.MaxPlayers,
		BallIntervalSeconds: b.BallIntervalSeconds,
		Active:              active,
	}
}

type roomBody struct {
	Name             string          `json:"name" binding:"required"`
	GameModeID       int64           `json:"gameModeId" binding:"required,min=1"`
	MinPlayers       int             `json:"minPlayers" binding:"required,min=1"`
	MaxPlayers       int             `json:"maxPlayers" binding:"required,min=1"`
	DefaultEntryCost decimal.Decimal `json:"defaultEntryCost"`
	IsActive         *bool           `json:"isActive"`
}

func (b roomBody) toParams() (catalog.RoomParams, error) {
	cost, err := ToMinorUnits(b.DefaultEntryCost)
	if err != nil {
		return catalog.RoomParams{}, err
	}
	active := true
	if b.IsActive != nil {
		active = *b.IsActive
	}
	return catalog.RoomParams{
		Name:             strings.TrimSpace(b.Name),
		GameModeID:       b.GameModeID,
		MinPlayers:       b.MinPlayers,
		MaxPlayers:       b.MaxPlayers,
		DefaultEntryCost: cost,
		IsActive:         active,
	}, nil
}

func (h *Handler) Register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Auth.Register(c.Request.Context(), body.Phone, body.Password, body.FullName)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Auth.Login(c.Request.Context(), body.Phone, body.Password)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) Lobby(c *gin.Context) {
	rooms, err := h.services.Catalog.Lobby(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"rooms": rooms})
}

func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Fail(c, appErr.ErrUnauthorized)
		return
	}
	profile, err := h.services.User.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, profile)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Fail(c, appErr.ErrUnauthorized)
		return
	}

	var body updateProfileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.services.User.UpdateProfile(c.Request.Context(), userID, usersvc.UpdateProfileRequest{
		FullName: body.FullName,
		Phone:    body.Phone,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, updated)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Fail(c, appErr.ErrUnauthorized)
		return
	}
	page, size, ok := pageParams(c)
	if !ok {
		return
	}

	result, err := h.services.Ledger.History(c.Request.Context(), userID, page, size)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) Audit(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Fail(c, appErr.ErrUnauthorized)
		return
	}
	report, err := h.services.Ledger.Audit(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, report)
}

func (h *Handler) JoinRoom(c *gin.Context) {
	userID, roomID, ok := callerAndID(c, "room")
	if !ok {
		return
	}
	result, err := h.services.Session.Join(c.Request.Context(), roomID, userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) GameState(c *gin.Context) {
	userID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	state, err := h.services.Session.GameState(c.Request.Context(), gameID, userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, state)
}

func (h *Handler) PurchaseEntry(c *gin.Context) {
	userID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	result, err := h.services.Session.PurchaseEntry(c.Request.Context(), gameID, userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if result.AlreadyPaid {
		response.SuccessWithMsg(c, result, "entry already paid")
		return
	}
	response.Success(c, result)
}

func (h *Handler) MarkNumber(c *gin.Context) {
	userID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	var body markBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Fail(c, appErr.ErrInvalidNumber)
		return
	}
	marked, err := h.services.Session.MarkNumber(c.Request.Context(), gameID, userID, body.Number)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, marked)
}

func (h *Handler) ClaimWin(c *gin.Context) {
	userID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	result, err := h.services.Session.ClaimWin(c.Request.Context(), gameID, userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) ClaimPrize(c *gin.Context) {
	userID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	receipt, err := h.services.Session.ClaimPrize(c.Request.Context(), gameID, userID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, receipt)
}

func (h *Handler) AdminListModes(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	modes, err := h.services.Catalog.ListModes(c.Request.Context(), activeOnly)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"items": modes})
}

func (h *Handler) AdminCreateMode(c *gin.Context) {
	adminID, _ := getUserID(c)
	var body modeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := h.services.Catalog.CreateMode(c.Request.Context(), adminID, body.toParams())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, mode)
}

func (h *Handler) AdminUpdateMode(c *gin.Context) {
	adminID, modeID, ok := callerAndID(c, "game mode")
	if !ok {
		return
	}
	var body modeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := h.services.Catalog.UpdateMode(c.Request.Context(), adminID, modeID, body.toParams())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, mode)
}

func (h *Handler) AdminDeleteMode(c *gin.Context) {
	adminID, modeID, ok := callerAndID(c, "game mode")
	if !ok {
		return
	}
	if err := h.services.Catalog.DeleteMode(c.Request.Context(), adminID, modeID); err != nil {
		response.Fail(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{"id": modeID}, "deleted")
}

func (h *Handler) AdminListRooms(c *gin.Context) {
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	result, err := h.services.Catalog.ListRooms(c.Request.Context(), page, size)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) AdminCreateRoom(c *gin.Context) {
	adminID, _ := getUserID(c)
	var body roomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	params, err := body.toParams()
	if err != nil {
		response.Fail(c, err)
		return
	}
	room, err := h.services.Catalog.CreateRoom(c.Request.Context(), adminID, params)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, room)
}

func (h *Handler) AdminUpdateRoom(c *gin.Context) {
	adminID, roomID, ok := callerAndID(c, "room")
	if !ok {
		return
	}
	var body roomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	params, err := body.toParams()
	if err != nil {
		response.Fail(c, err)
		return
	}
	room, err := h.services.Catalog.UpdateRoom(c.Request.Context(), adminID, roomID, params)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, room)
}

func (h *Handler) AdminDeleteRoom(c *gin.Context) {
	adminID, roomID, ok := callerAndID(c, "room")
	if !ok {
		return
	}
	if err := h.services.Catalog.DeleteRoom(c.Request.Context(), adminID, roomID); err != nil {
		response.Fail(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{"id": roomID}, "deleted")
}

func (h *Handler) AdminListGames(c *gin.Context) {
	games, err := h.services.Session.ListOpenGames(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"items": games})
}

func (h *Handler) AdminStartGame(c *gin.Context) {
	adminID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	game, err := h.services.Session.Start(c.Request.Context(), adminID, gameID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, game)
}

func (h *Handler) AdminPauseGame(c *gin.Context) {
	adminID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	game, err := h.services.Session.Pause(c.Request.Context(), adminID, gameID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, game)
}

func (h *Handler) AdminResumeGame(c *gin.Context) {
	adminID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	game, err := h.services.Session.Resume(c.Request.Context(), adminID, gameID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, game)
}

func (h *Handler) AdminCallNumber(c *gin.Context) {
	adminID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	result, err := h.services.Session.CallNumber(c.Request.Context(), adminID, gameID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"called": result.Called,
		"game":   result.Game,
	})
}

func (h *Handler) AdminFinishGame(c *gin.Context) {
	adminID, gameID, ok := callerAndID(c, "game")
	if !ok {
		return
	}
	var body finishBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Error(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	game, err := h.services.Session.ForceFinish(c.Request.Context(), adminID, gameID, body.WinnerID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, game)
}

func (h *Handler) AdminListUsers(c *gin.Context) {
	page, size, ok := pageParams(c)
	if !ok {
		return
	}
	result, err := h.services.User.AdminListUsers(c.Request.Context(), usersvc.AdminListUsersFilter{
		Page:    page,
		Size:    size,
		Role:    c.Query("role"),
		Keyword: c.Query("keyword"),
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) AdminUpdateUser(c *gin.Context) {
	adminID, userID, ok := callerAndID(c, "user")
	if !ok {
		return
	}
	var body adminUpdateUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.services.User.AdminUpdateProfile(c.Request.Context(), adminID, userID, usersvc.AdminUpdateRequest{
		FullName: body.FullName,
		Phone:    body.Phone,
		Role:     body.Role,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, updated)
}

func (h *Handler) AdminAddBalance(c *gin.Context) {
	adminID, userID, ok := callerAndID(c, "user")
	if !ok {
		return
	}
	var body balanceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Fail(c, appErr.ErrInvalidAmount)
		return
	}
	amount, err := ToMinorUnits(body.Amount)
	if err != nil {
		response.Fail(c, err)
		return
	}
	receipt, err := h.services.Ledger.AdminAddBalance(c.Request.Context(), adminID, userID, amount, strings.TrimSpace(body.Note))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, receipt)
}

// callerAndID reads the authenticated caller and the :id path parameter,
// answering the request itself when either is missing.
func callerAndID(c *gin.Context, what string) (int64, int64, bool) {
	userID, ok := getUserID(c)
	if !ok {
		response.Fail(c, appErr.ErrUnauthorized)
		return 0, 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, fmt.Sprintf("invalid %s id", what))
		return 0, 0, false
	}
	return userID, id, true
}

func pageParams(c *gin.Context) (int, int, bool) {
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return page, size, true
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}

func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
