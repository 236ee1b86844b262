package payment

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

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

// RegisterPublicRoutes mounts the provider callbacks, which carry no JWT.
func (h *Handler) RegisterPublicRoutes(app *fiber.App) {
	app.Get("/api/v1/payments/pesapal/ipn", h.pesapalIPN)
	app.Get("/api/v1/payments/dpo/callback", h.dpoCallback)
	app.Post("/api/v1/payments/:provider/webhook", h.webhook)
}

func (h *Handler) RegisterProtectedRoutes(app *fiber.App) {
	app.Post("/api/v1/orders/:id/payments", h.initiatePayment)
	app.Get("/api/v1/payments/verify/:trackingId", h.verifyPayment)
	app.Get("/api/v1/payments/report/:trackingId", h.paymentReport)
}

type initiateRequest struct {
	Provider string `json:"provider" validate:"required"`
}

func (h *Handler) initiatePayment(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid order id"})
	}
	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	out, err := h.service.InitiatePayment(c.UserContext(), customerID, int64(id), req.Provider)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (h *Handler) verifyPayment(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	rec, err := h.service.VerifyCustomerPayment(c.UserContext(), c.Params("trackingId"), customerID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(rec)
}

func (h *Handler) paymentReport(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	report, err := h.service.GetPaymentReport(c.UserContext(), c.Params("trackingId"), customerID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(report)
}

// webhook hands the raw body to the provider's signature check before
// anything parses it.
func (h *Handler) webhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	signature := ""
	if header := h.service.SignatureHeader(provider); header != "" {
		signature = c.Get(header)
	}
	payload := append([]byte(nil), c.Body()...)
	ack, err := h.service.HandleWebhook(c.UserContext(), provider, payload, signature)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(ack)
}

func (h *Handler) pesapalIPN(c *fiber.Ctx) error {
	trackingID := c.Query("OrderTrackingId")
	ack := h.service.HandlePesapalIPN(c.UserContext(), trackingID)
	status := fiber.StatusOK
	if ack.Error != "" {
		status = fiber.StatusInternalServerError
	}
	return c.JSON(fiber.Map{
		"orderNotificationType":  c.Query("OrderNotificationType", "IPNCHANGE"),
		"orderTrackingId":        trackingID,
		"orderMerchantReference": c.Query("OrderMerchantReference"),
		"status":                 status,
		"received":               ack.Received,
		"error":                  ack.Error,
	})
}

func (h *Handler) dpoCallback(c *fiber.Ctx) error {
	return c.JSON(h.service.HandleDPOCallback(c.UserContext(), c.Query("TransactionToken")))
}
