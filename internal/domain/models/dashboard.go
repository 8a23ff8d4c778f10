package models

import (
	"encoding/json"
	"time"
)

// Widget kinds
const (
	WidgetMetric = "metric"
	WidgetChart  = "chart"
	WidgetList   = "list"
)

// DashboardWidget is a saved analytics tile on a user's dashboard.
type DashboardWidget struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	UserID    string          `json:"user_id"`
	Title     string          `json:"title"`
	Kind      string          `json:"kind"`
	Config    json.RawMessage `json:"config"`
	Position  int             `json:"position"`
	CreatedAt time.Time       `json:"created_at"`
}

// WidgetData is a widget together with its computed payload.
type WidgetData struct {
	Widget *DashboardWidget `json:"widget"`
	Data   interface{}      `json:"data,omitempty"`
	Error  string           `json:"error,omitempty"`
}
