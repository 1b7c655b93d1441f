package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/Domenick1991/cruisebooking/internal/fusion"
	"github.com/Domenick1991/cruisebooking/internal/service/booking"
	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

type BookingHandler struct {
	service booking.BookingUseCase
}

// Route is one entry of the HTTP routing table.
type Route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
}

type bookRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Passengers     []fusion.Passenger `json:"passengers"`
	Contact        fusion.ContactInfo `json:"contact"`
	Allocation     json.RawMessage    `json:"allocation,omitempty"`
	Payment        json.RawMessage    `json:"payment,omitempty"`
}

type sessionResponse struct {
	ID               string     `json:"id"`
	ActivityID       int64      `json:"activity_id"`
	UserID           int64      `json:"user_id"`
	TripID           *int64     `json:"trip_id,omitempty"`
	TripTravelerID   *int64     `json:"trip_traveler_id,omitempty"`
	HandoffUserID    *int64     `json:"handoff_user_id,omitempty"`
	SessionKey       string     `json:"session_key"`
	FlowType         string     `json:"flow_type"`
	CruiseID         string     `json:"cruise_id,omitempty"`
	ResultNo         string     `json:"result_no,omitempty"`
	FareCode         string     `json:"fare_code,omitempty"`
	GradeNo          string     `json:"grade_no,omitempty"`
	CabinNo          string     `json:"cabin_no,omitempty"`
	BasketItemKey    string     `json:"basket_item_key,omitempty"`
	Status           string     `json:"status"`
	BookingReference string     `json:"booking_reference,omitempty"`
	SessionExpiresAt string     `json:"session_expires_at"`
	HoldExpiresAt    *time.Time `json:"hold_expires_at,omitempty"`
}

type basketAddResponse struct {
	Session  sessionResponse   `json:"session"`
	ItemKey  string            `json:"item_key"`
	Price    float64           `json:"price"`
	Currency string            `json:"currency,omitempty"`
	Hold     domain.HoldStatus `json:"hold"`
}

type basketResponse struct {
	Session sessionResponse   `json:"session"`
	Basket  *fusion.Basket    `json:"basket"`
	Hold    domain.HoldStatus `json:"hold"`
}

type bookingResponse struct {
	BookingReference string           `json:"booking_reference"`
	Status           string           `json:"status"`
	Replayed         bool             `json:"replayed"`
	Session          *sessionResponse `json:"session,omitempty"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

// Routes is the complete routing table, relative to the API prefix.
func (h *BookingHandler) Routes() []Route {
	return []Route{
		{http.MethodPost, "/cruises/search", h.search},
		{http.MethodGet, "/cruises/:cruiseId/rate-codes", h.rateCodes},
		{http.MethodGet, "/cruises/:cruiseId/cabin-grades", h.cabinGrades},
		{http.MethodGet, "/cruises/:cruiseId/cabins", h.cabins},
		{http.MethodPost, "/past-passengers/lookup", h.pastPassenger},
		{http.MethodPost, "/basket", h.addToBasket},
		{http.MethodGet, "/sessions/:sessionId/basket", h.basket},
		{http.MethodDelete, "/sessions/:sessionId/basket", h.removeFromBasket},
		{http.MethodGet, "/sessions/:sessionId/hold", h.hold},
		{http.MethodPost, "/sessions/:sessionId/book", h.book},
		{http.MethodDelete, "/sessions/:sessionId", h.cancel},
		{http.MethodGet, "/activities/:activityId/proposal", h.proposal},
	}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	for _, r := range h.Routes() {
		router.Handle(r.Method, r.Path, r.Handler)
	}
}

func (h *BookingHandler) search(c *gin.Context) {
	var req booking.SearchInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.service.Search(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *BookingHandler) rateCodes(c *gin.Context) {
	codes, err := h.service.GetRateCodes(c.Request.Context(), c.Query("session_key"), c.Param("cruiseId"), c.Query("result_no"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate_codes": codes})
}

func (h *BookingHandler) cabinGrades(c *gin.Context) {
	grades, err := h.service.GetCabinGrades(c.Request.Context(), c.Query("session_key"), c.Param("cruiseId"), c.Query("result_no"), c.Query("fare_code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cabin_grades": grades})
}

func (h *BookingHandler) cabins(c *gin.Context) {
	res, err := h.service.GetCabins(c.Request.Context(), fusion.CabinsRequest{
		SessionKey: c.Query("session_key"),
		CruiseID:   c.Param("cruiseId"),
		ResultNo:   c.Query("result_no"),
		FareCode:   c.Query("fare_code"),
		GradeNo:    c.Query("grade_no"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *BookingHandler) pastPassenger(c *gin.Context) {
	var req fusion.PastPassengerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.service.LookupPastPassenger(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *BookingHandler) addToBasket(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req booking.AddToBasketInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.service.AddToBasket(c.Request.Context(), caller, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, basketAddResponse{
		Session:  toSessionResponse(res.Session),
		ItemKey:  res.ItemKey,
		Price:    res.Price,
		Currency: res.Currency,
		Hold:     res.Hold,
	})
}

func (h *BookingHandler) basket(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	view, err := h.service.GetBasket(c.Request.Context(), caller, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, basketResponse{Session: toSessionResponse(view.Session), Basket: view.Basket, Hold: view.Hold})
}

func (h *BookingHandler) removeFromBasket(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	s, err := h.service.RemoveFromBasket(c.Request.Context(), caller, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

func (h *BookingHandler) hold(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	hs, err := h.service.HoldStatus(c.Request.Context(), caller, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hs)
}

func (h *BookingHandler) book(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	key := c.GetHeader(idempotencyHeader)
	if key == "" {
		key = req.IdempotencyKey
	}

	res, err := h.service.CompleteBooking(c.Request.Context(), caller, booking.CompleteBookingInput{
		SessionID:      c.Param("sessionId"),
		IdempotencyKey: key,
		Passengers:     req.Passengers,
		Contact:        req.Contact,
		Allocation:     req.Allocation,
		Payment:        req.Payment,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	out := bookingResponse{BookingReference: res.BookingReference, Status: res.Status, Replayed: res.Replayed}
	if res.Session != nil {
		s := toSessionResponse(res.Session)
		out.Session = &s
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, out)
}

func (h *BookingHandler) cancel(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	s, err := h.service.CancelSession(c.Request.Context(), caller, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

func (h *BookingHandler) proposal(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	activityID, err := strconv.ParseInt(c.Param("activityId"), 10, 64)
	if err != nil || activityID <= 0 {
		badRequest(c, "activityId must be a positive integer")
		return
	}

	p, err := h.service.GetProposal(c.Request.Context(), caller, activityID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, basketResponse{Session: toSessionResponse(p.Session), Basket: p.Basket, Hold: p.Hold})
}

func (h *BookingHandler) caller(c *gin.Context) (domain.Caller, bool) {
	caller, ok := callerFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: errorBody{Code: "UNAUTHORIZED", Message: "missing caller"}})
	}
	return caller, ok
}

func toSessionResponse(s *domain.BookingSession) sessionResponse {
	if s == nil {
		return sessionResponse{}
	}
	return sessionResponse{
		ID:               s.ID,
		ActivityID:       s.ActivityID,
		UserID:           s.UserID,
		TripID:           s.TripID,
		TripTravelerID:   s.TripTravelerID,
		HandoffUserID:    s.HandoffUserID,
		SessionKey:       s.SessionKey,
		FlowType:         string(s.FlowType),
		CruiseID:         s.CruiseID,
		ResultNo:         s.ResultNo,
		FareCode:         s.FareCode,
		GradeNo:          s.GradeNo,
		CabinNo:          s.CabinNo,
		BasketItemKey:    s.BasketItemKey,
		Status:           string(s.Status),
		BookingReference: s.BookingReference,
		SessionExpiresAt: s.SessionExpiresAt.Format(time.RFC3339),
		HoldExpiresAt:    s.HoldExpiresAt,
	}
}
