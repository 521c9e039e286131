package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-service/internal/api/dto"
	"github.com/spec-kit/support-service/internal/service"
	apperrors "github.com/spec-kit/support-service/pkg/util/errorutil"
)

// StaffTicketsHandler handles the support console endpoints.
type StaffTicketsHandler struct {
	tickets *service.TicketService
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(ticketService *service.TicketService) *StaffTicketsHandler {
	return &StaffTicketsHandler{tickets: ticketService}
}

// ListTickets GET /admin/tickets.
func (h *StaffTicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	assignedToMe, _ := strconv.ParseBool(c.Query("assignedToMe", c.Query("assigned_to_me")))
	page, err := h.tickets.ListAllTickets(c.UserContext(), principal.ID(), service.StaffTicketFilter{
		Status:       c.Query("status"),
		Priority:     c.Query("priority"),
		Category:     c.Query("category"),
		Search:       c.Query("search"),
		AssignedToMe: assignedToMe,
		Page:         parseInt(c.Query("page"), 1),
		Limit:        parseInt(c.Query("limit"), 20),
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.NewTicketListResponse(page))
}

// Stats GET /admin/tickets/stats.
func (h *StaffTicketsHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.tickets.GetStats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStatsResponse(stats)})
}

// GetTicket GET /admin/tickets/:id.
func (h *StaffTicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	detail, err := h.tickets.GetTicketByID(c.UserContext(), c.Params("id"), principal.ID(), principal.Role())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetailResponse(detail)})
}

// UpdateTicket PATCH /admin/tickets/:id.
func (h *StaffTicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.UpdateTicket(c.UserContext(), c.Params("id"), principal.ID(), req.ToInput())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// AssignToSelf POST /admin/tickets/:id/assign.
func (h *StaffTicketsHandler) AssignToSelf(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.AssignTicketToSelf(c.UserContext(), c.Params("id"), principal.ID())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}
