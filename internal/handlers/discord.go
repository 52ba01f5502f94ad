package handlers

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/flowra/backend/internal/middleware"
	"github.com/flowra/backend/internal/services"
	"github.com/flowra/backend/pkg/logger"
	"github.com/flowra/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type DiscordHandler struct {
	discordService     *services.DiscordService
	interactionService *services.InteractionService
	publicKey          ed25519.PublicKey
}

// NewDiscordHandler decodes the hex application public key. The webhook route
// answers 503 while it is missing or malformed.
func NewDiscordHandler(discord *services.DiscordService, interactions *services.InteractionService, publicKeyHex string) *DiscordHandler {
	h := &DiscordHandler{
		discordService:     discord,
		interactionService: interactions,
	}
	if publicKeyHex != "" {
		key, err := hex.DecodeString(publicKeyHex)
		if err != nil || len(key) != ed25519.PublicKeySize {
			logger.Warnf("[Discord] Ignoring malformed application public key")
		} else {
			h.publicKey = ed25519.PublicKey(key)
		}
	}
	return h
}

// Dispatch posts task embeds with action buttons to the team channel
// POST /api/discord/bot-with-buttons
func (h *DiscordHandler) Dispatch(c *gin.Context) {
	var req services.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	result, err := h.discordService.Dispatch(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Interact runs a task action. With a link secret configured the body must
// carry the same sig as the GET link.
// POST /api/discord/interactions
func (h *DiscordHandler) Interact(c *gin.Context) {
	var req services.InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}
	if err := h.interactionService.VerifySignature(&req); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.interactionService.Handle(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

var confirmationPage = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="ko">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>Flowra</title>
<style>body{font-family:sans-serif;max-width:480px;margin:48px auto;padding:0 16px;color:#1f2937}
.card{border:1px solid #e5e7eb;border-radius:12px;padding:24px}.ok{color:#16a34a}.fail{color:#dc2626}
dt{font-weight:600;margin-top:12px}dd{margin:4px 0 0}</style></head>
<body><div class="card">
{{if .Success}}<h2 class="ok">✅ {{.Message}}</h2>{{else}}<h2 class="fail">⚠️ {{.Message}}</h2>{{end}}
{{with .Task}}<dl>
<dt>업무</dt><dd>{{.Title}}</dd>
<dt>상태</dt><dd>{{.Status}}</dd>
{{if .DueDate}}<dt>마감일</dt><dd>{{.DueDate.Format "2006-01-02 15:04"}}</dd>{{end}}
</dl>{{end}}
{{if .IsTestMode}}<p><small>테스트 모드로 실행되었습니다. 실제 데이터는 변경되지 않았습니다.</small></p>{{end}}
<p><small>이 창은 닫아도 됩니다.</small></p>
</div></body></html>`))

type confirmationView struct {
	Success    bool
	Message    string
	Task       interface{}
	IsTestMode bool
}

// InteractLink runs the same operation from a link and renders a confirmation page
// GET /api/discord/interactions
func (h *DiscordHandler) InteractLink(c *gin.Context) {
	req := &services.InteractionRequest{
		TaskID: c.Query("taskId"),
		Action: c.Query("action"),
		UserID: c.Query("userId"),
		TeamID: c.Query("teamId"),
		Sig:    c.Query("sig"),
	}
	if req.TaskID == "" || req.UserID == "" || !services.IsTaskAction(req.Action) {
		h.renderPage(c, http.StatusBadRequest, confirmationView{Message: "잘못된 요청입니다"})
		return
	}
	if err := h.interactionService.VerifySignature(req); err != nil {
		h.renderPage(c, http.StatusForbidden, confirmationView{Message: "링크 서명이 올바르지 않습니다"})
		return
	}

	data := &services.InteractionData{NewDueDate: c.Query("new_due_date")}
	if days := c.Query("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 || n > 365 {
			h.renderPage(c, http.StatusBadRequest, confirmationView{Message: "days는 1에서 365 사이여야 합니다"})
			return
		}
		data.Days = &n
	}
	req.Data = data

	result, err := h.interactionService.Handle(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		message := response.MsgServerError
		var appErr *response.AppError
		if errors.As(err, &appErr) {
			status, message = appErr.HTTPStatus, appErr.Message
			if appErr.Cause != nil {
				logger.Error().Err(appErr.Cause).Str("task_id", req.TaskID).Msg("[Discord] link action failed")
			}
		}
		h.renderPage(c, status, confirmationView{Message: message})
		return
	}

	view := confirmationView{Success: true, Message: result.Message, IsTestMode: result.IsTestMode}
	if result.Task != nil {
		view.Task = result.Task.Task
	}
	h.renderPage(c, http.StatusOK, view)
}

func (h *DiscordHandler) renderPage(c *gin.Context, status int, view confirmationView) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := confirmationPage.Execute(c.Writer, view); err != nil {
		logger.Error().Err(err).Msg("[Discord] render confirmation page")
	}
}

// Webhook receives native Discord interactions (PING, buttons, slash commands)
// POST /api/discord/webhook
func (h *DiscordHandler) Webhook(c *gin.Context) {
	if h.publicKey == nil {
		response.Error(c, response.NewServiceUnavailable("Discord 연동이 설정되지 않았습니다"))
		return
	}
	if !discordgo.VerifyInteraction(c.Request, h.publicKey) {
		response.Unauthorized(c, "잘못된 요청 서명입니다")
		return
	}

	var interaction discordgo.Interaction
	if err := json.NewDecoder(c.Request.Body).Decode(&interaction); err != nil {
		response.BadRequest(c, "잘못된 interaction 본문입니다")
		return
	}

	c.JSON(http.StatusOK, h.interactionService.HandleDiscordInteraction(c.Request.Context(), &interaction))
}
