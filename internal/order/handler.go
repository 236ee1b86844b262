package order

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/wichananm65/art-market-backend/internal/apperr"
	"github.com/wichananm65/art-market-backend/internal/auth"
)

type Handler struct {
	service  *Service
	validate *validator.Validate
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s, validate: validator.New()}
}

func (h *Handler) RegisterProtectedRoutes(app *fiber.App) {
	app.Post("/api/v1/orders/checkout", h.checkout)
	app.Get("/api/v1/orders", h.listOrders)
	app.Get("/api/v1/orders/:id", h.getOrder)
	app.Post("/api/v1/orders/:id/cancel", h.cancelOrder)
}

type checkoutRequest struct {
	TotalAmount       *decimal.Decimal `json:"totalAmount" validate:"required"`
	ShippingAddressID *int64           `json:"shippingAddressId" validate:"omitempty,gt=0"`
}

func (h *Handler) checkout(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	o, err := h.service.Checkout(c.UserContext(), customerID, CheckoutInput{
		DeclaredTotal:     *req.TotalAmount,
		ShippingAddressID: req.ShippingAddressID,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(o)
}

func (h *Handler) listOrders(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	orders, err := h.service.ListOrders(c.UserContext(), customerID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(orders)
}

func (h *Handler) getOrder(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid order id"})
	}
	o, err := h.service.GetOrder(c.UserContext(), int64(id), customerID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(o)
}

func (h *Handler) cancelOrder(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid order id"})
	}
	o, err := h.service.CancelOrder(c.UserContext(), int64(id), customerID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(o)
}
