package domain

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// NormalizePage clamps page to >= 1 and limit to [1, MaxPageLimit], returning the row offset.
func NormalizePage(page int, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit, (page - 1) * limit
}

func NewPagination(page int, limit int, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
