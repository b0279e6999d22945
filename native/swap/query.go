package swap

import (
	"math"
)

// pageWindow maps (page, pageSize) onto an id window [start, end). The
// multiplication saturates to 0 and the addition to MaxUint64. Pagination is
// over the id space, not the filtered match count, so a page may hold fewer
// than pageSize matches even when more exist beyond the window.
func pageWindow(page, pageSize uint64) (uint64, uint64) {
	start := page * pageSize
	if pageSize != 0 && start/pageSize != page {
		start = 0
	}
	end := start + pageSize
	if end < start {
		end = math.MaxUint64
	}
	return start, end
}

// ByInitiator returns the agreements initiated by addr within the page's id
// window, ascending by id.
func (s *Store) ByInitiator(addr string, page, pageSize uint64) ([]*Agreement, error) {
	start, end := pageWindow(page, pageSize)
	return s.Scan(start, end, func(a *Agreement) bool {
		return a.Initiator == addr
	})
}

// ByCounterparty returns the agreements naming addr as counterparty within
// the page's id window, ascending by id.
func (s *Store) ByCounterparty(addr string, page, pageSize uint64) ([]*Agreement, error) {
	start, end := pageWindow(page, pageSize)
	return s.Scan(start, end, func(a *Agreement) bool {
		return a.Counterparty == addr
	})
}

// ByStatus returns the agreements currently in the given status within the
// page's id window, ascending by id.
func (s *Store) ByStatus(status AgreementStatus, page, pageSize uint64) ([]*Agreement, error) {
	start, end := pageWindow(page, pageSize)
	return s.Scan(start, end, func(a *Agreement) bool {
		return a.Status == status
	})
}
