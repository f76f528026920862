package apiclient

import "time"

// Metrics are the reel statistics a user can attach to a chat question.
type Metrics struct {
	Followers    int     `json:"followers" validate:"gte=0"`
	ElapsedTime  float64 `json:"elapsed_time" validate:"gte=0"`
	VideoLength  float64 `json:"video_length" validate:"gte=0"`
	AvgWatchTime float64 `json:"avg_watch_time" validate:"gte=0"`
	Views        int     `json:"views" validate:"gte=0"`
	Likes        int     `json:"likes" validate:"gte=0"`
	Comments     int     `json:"comments" validate:"gte=0"`
	Shares       int     `json:"shares" validate:"gte=0"`
	Saves        int     `json:"saves" validate:"gte=0"`
	Follows      int     `json:"follows" validate:"gte=0"`
}

type ChatRequest struct {
	Query     string   `json:"query" validate:"required,max=4000"`
	SessionID string   `json:"session_id,omitempty" validate:"omitempty,max=64"`
	Metrics   *Metrics `json:"metrics,omitempty"`
}

type ChatResponse struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

type AnalyzeRequest struct {
	Followers int `json:"followers" validate:"gte=0"`
	Views     int `json:"views" validate:"gte=0"`
	Likes     int `json:"likes" validate:"gte=0"`
}

type AnalyzeResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
}

// HistoryEntry is one message of the caller's chat history.
type HistoryEntry struct {
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryResponse struct {
	Result []HistoryEntry `json:"result"`
}
