package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/krs-enrollment-api/pkg/errors"
	"github.com/noah-isme/krs-enrollment-api/pkg/response"
)

type cartService interface {
	List(ctx context.Context, studentID string) ([]models.CartItem, error)
	Add(ctx context.Context, actor service.Actor, req service.AddCartItemRequest) (*models.CartItem, error)
	Remove(ctx context.Context, actor service.Actor, courseID string) error
	Clear(ctx context.Context, actor service.Actor) error
	Checkout(ctx context.Context, actor service.Actor) (*service.CheckoutResult, error)
}

// CartHandler exposes the pre-registration cart.
type CartHandler struct {
	carts cartService
}

// NewCartHandler constructs CartHandler.
func NewCartHandler(carts cartService) *CartHandler {
	return &CartHandler{carts: carts}
}

// List godoc
// @Summary List cart items
// @Tags Cart
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /cart [get]
func (h *CartHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	items, err := h.carts.List(c.Request.Context(), actor.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}

// Add godoc
// @Summary Add a course to the cart
// @Tags Cart
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.AddCartItemRequest true "Cart item"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /cart/items [post]
func (h *CartHandler) Add(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req service.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	item, err := h.carts.Add(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Remove godoc
// @Summary Remove a course from the cart
// @Tags Cart
// @Security BearerAuth
// @Param courseId path string true "Course ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /cart/items/{courseId} [delete]
func (h *CartHandler) Remove(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.carts.Remove(c.Request.Context(), actor, c.Param("courseId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Clear godoc
// @Summary Clear the cart
// @Tags Cart
// @Security BearerAuth
// @Success 204
// @Router /cart [delete]
func (h *CartHandler) Clear(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.carts.Clear(c.Request.Context(), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Checkout godoc
// @Summary Check out the cart
// @Description Submits every cart item to the enrollment pipeline in the order it was added.
// @Tags Cart
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /cart/checkout [post]
func (h *CartHandler) Checkout(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	result, err := h.carts.Checkout(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
