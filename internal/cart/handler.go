package cart

import (
	"context"

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
	app.Get("/api/v1/cart", h.getCart)
	app.Get("/api/v1/cart/items", h.getItems)
	app.Post("/api/v1/cart/items", h.addItem)
	app.Patch("/api/v1/cart/items/:id/increment", h.incrementItem)
	app.Patch("/api/v1/cart/items/:id/decrement", h.decrementItem)
	app.Delete("/api/v1/cart/items/:id", h.deleteItem)
}

type addItemRequest struct {
	ArtworkID int64            `json:"artworkId" validate:"required,gt=0"`
	Quantity  int              `json:"quantity" validate:"gte=0"`
	Price     *decimal.Decimal `json:"price"`
}

func (h *Handler) getCart(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return unauthorized(c)
	}
	cart, err := h.service.GetCart(c.UserContext(), customerID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(cart)
}

func (h *Handler) getItems(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return unauthorized(c)
	}
	items, err := h.service.GetItems(c.UserContext(), customerID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(items)
}

func (h *Handler) addItem(c *fiber.Ctx) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req addItemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	cart, err := h.service.AddItem(c.UserContext(), customerID, AddItemInput{
		ArtworkID: req.ArtworkID,
		Quantity:  req.Quantity,
		Price:     req.Price,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(cart)
}

func (h *Handler) incrementItem(c *fiber.Ctx) error {
	return h.mutateItem(c, h.service.IncrementItem)
}

func (h *Handler) decrementItem(c *fiber.Ctx) error {
	return h.mutateItem(c, h.service.DecrementItem)
}

func (h *Handler) deleteItem(c *fiber.Ctx) error {
	return h.mutateItem(c, h.service.DeleteItem)
}

type itemMutation func(ctx context.Context, customerID, itemID int64) (Cart, error)

func (h *Handler) mutateItem(c *fiber.Ctx, op itemMutation) error {
	customerID, err := auth.CustomerID(c)
	if err != nil {
		return unauthorized(c)
	}
	itemID, err := c.ParamsInt("id")
	if err != nil || itemID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid item id"})
	}
	cart, err := op(c.UserContext(), customerID, int64(itemID))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(cart)
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
}
