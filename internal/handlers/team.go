package handlers

import (
	"github.com/flowra/backend/internal/middleware"
	"github.com/flowra/backend/internal/services"
	"github.com/flowra/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type TeamHandler struct {
	teamService       *services.TeamService
	invitationService *services.InvitationService
	discordService    *services.DiscordService
}

func NewTeamHandler(teams *services.TeamService, invitations *services.InvitationService, discord *services.DiscordService) *TeamHandler {
	return &TeamHandler{
		teamService:       teams,
		invitationService: invitations,
		discordService:    discord,
	}
}

// Create
// POST /api/teams
func (h *TeamHandler) Create(c *gin.Context) {
	var req services.CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	team, err := h.teamService.Create(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, team)
}

// List returns the caller's teams with their role
// GET /api/teams
func (h *TeamHandler) List(c *gin.Context) {
	teams, err := h.teamService.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, teams)
}

// Members
// GET /api/teams/:id/members
func (h *TeamHandler) Members(c *gin.Context) {
	members, err := h.teamService.Members(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, members)
}

// UpdateMember changes a member's role
// PATCH /api/teams/:id/members/:userId
func (h *TeamHandler) UpdateMember(c *gin.Context) {
	var req services.UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	member, err := h.teamService.UpdateMemberRole(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Param("userId"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, member)
}

// RemoveMember deactivates a membership
// DELETE /api/teams/:id/members/:userId
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	if err := h.teamService.RemoveMember(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Tags
// GET /api/teams/:id/tags
func (h *TeamHandler) Tags(c *gin.Context) {
	tags, err := h.teamService.Tags(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tags)
}

// Invite
// POST /api/teams/:id/invitations
func (h *TeamHandler) Invite(c *gin.Context) {
	var req services.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	inv, err := h.invitationService.Create(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inv)
}

// MyInvitations lists pending invitations addressed to the caller
// GET /api/teams/invitations
func (h *TeamHandler) MyInvitations(c *gin.Context) {
	invitations, err := h.invitationService.ListMine(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, invitations)
}

// AcceptInvitation
// POST /api/teams/invitations/:id/accept
func (h *TeamHandler) AcceptInvitation(c *gin.Context) {
	var req services.AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	result, err := h.invitationService.Accept(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// GetDiscordSetting
// GET /api/teams/:id/discord
func (h *TeamHandler) GetDiscordSetting(c *gin.Context) {
	setting, err := h.discordService.GetSetting(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, setting)
}

// SaveDiscordSetting
// PUT /api/teams/:id/discord
func (h *TeamHandler) SaveDiscordSetting(c *gin.Context) {
	var req services.DiscordSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	setting, err := h.discordService.SaveSetting(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, setting)
}
