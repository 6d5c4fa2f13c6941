package testserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type OrderLine struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type Order struct {
	ID            string      `json:"id"`
	Items         []OrderLine `json:"items"`
	Total         float64     `json:"total"`
	OrderType     string      `json:"orderType"`
	Instructions  string      `json:"instructions,omitempty"`
	CustomerName  string      `json:"customerName"`
	Email         string      `json:"email"`
	Phone         string      `json:"phone"`
	Authorization string      `json:"authorization"`
	Status        string      `json:"status"`
}

type Reservation struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	PartySize      int    `json:"partySize"`
	SpecialRequest string `json:"specialRequest,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order body: " + err.Error()})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order has no items"})
		return
	}

	order := req.Order
	order.ID = req.OrderID
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Total = 0
	for _, l := range order.Items {
		if l.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("invalid quantity %d for product %s", l.Quantity, l.ProductID),
			})
			return
		}
		order.Total += l.Price * float64(l.Quantity)
	}

	auth, err := s.authorize(r.Context(), order.Total)
	if err != nil {
		fields := []zap.Field{zap.String("order_id", order.ID), zap.Error(err)}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn("payment gateway breaker rejected charge", fields...)
		} else {
			s.logger.Error("payment gateway charge failed", fields...)
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "payment gateway unavailable",
			"details": err.Error(),
		})
		return
	}
	order.Authorization = auth
	order.Status = "confirmed"

	s.mu.Lock()
	s.orders[order.ID] = order
	s.mu.Unlock()

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.Float64("total", order.Total),
		zap.Int("lines", len(order.Items)),
	)
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	order, ok := s.orders[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := append([]Reservation(nil), s.reservations...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list, "count": len(list)})
}

func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var res Reservation
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reservation body: " + err.Error()})
		return
	}
	var missing []string
	if strings.TrimSpace(res.Name) == "" {
		missing = append(missing, "name")
	}
	if res.Date == "" {
		missing = append(missing, "date")
	}
	if res.Time == "" {
		missing = append(missing, "time")
	}
	if res.PartySize <= 0 {
		missing = append(missing, "partySize")
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "missing fields", "fields": missing})
		return
	}

	res.ID = fmt.Sprintf("res-%d", s.seq.Add(1))
	s.mu.Lock()
	s.reservations = append(s.reservations, res)
	s.mu.Unlock()

	s.logger.Info("reservation created",
		zap.String("reservation_id", res.ID),
		zap.String("date", res.Date),
		zap.Int("party_size", res.PartySize),
	)
	writeJSON(w, http.StatusCreated, res)
}
