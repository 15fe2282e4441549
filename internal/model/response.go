package model

// APIResponse is the envelope of every HTTP reply.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

// APIError carries either an engine ErrorKind or an HTTP-level code
// (BAD_REQUEST, UNAUTHORIZED, RATE_LIMITED) in Code.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Paginate clamps page and limit and returns the slice bounds of that page
// over total items.
func Paginate(total int, page int, limit int) (int, int, Meta) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)

	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return start, end, Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
