// Package view holds the dashboard's view parameter state and the
// typed cache keys derived from it. Every parameter that affects a
// server read is part of the corresponding key, so equal parameters
// share one cache entry and changed parameters address a new one.
package view

import (
	"sync"

	"github.com/school-hub/gradebook/internal/domain/grade"
)

// Sort fields accepted by the grades endpoint.
const (
	SortByDate    = "date"
	SortBySubject = "subject"
	SortByScore   = "score"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// GradesKey identifies one cached grade page. Plain struct equality is
// the cache-key equality; no string serialization is involved.
type GradesKey struct {
	StudentID     int
	FilterSubject grade.Subject // empty = all subjects
	SortBy        string
	SortOrder     string
	Page          int
}

// StatsKey identifies one cached statistics snapshot.
type StatsKey struct {
	StudentID int
}

// ReportsKey identifies one cached report history.
type ReportsKey struct {
	StudentID int
}

// StudentsKey identifies one cached roster listing.
type StudentsKey struct {
	ClassName string // empty = all classes
}

// ClassesKey identifies the class listing (a single global entry).
type ClassesKey struct{}

// Params is the mutable view parameter state of the active dashboard.
// Page resets to 1 whenever the filter or the sort changes; the server
// does not clamp a page index that points past the new result set, so
// the reset must happen here.
type Params struct {
	mu            sync.Mutex
	className     string
	studentID     int
	filterSubject grade.Subject
	sortBy        string
	sortOrder     string
	page          int
	showStats     bool
}

// NewParams returns dashboard parameters with the default sort
// (newest first) on page 1.
func NewParams() *Params {
	return &Params{
		sortBy:    SortByDate,
		sortOrder: SortDesc,
		page:      1,
	}
}

// SelectClass switches the roster filter and drops the student
// selection, which belongs to the previous class.
func (p *Params) SelectClass(className string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.className == className {
		return
	}
	p.className = className
	p.studentID = 0
	p.page = 1
}

// SelectStudent switches the active student. Filter and sort carry
// over; the page restarts because the new student has their own pages.
func (p *Params) SelectStudent(studentID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.studentID == studentID {
		return
	}
	p.studentID = studentID
	p.page = 1
}

// SetFilterSubject changes the subject filter and resets the page.
func (p *Params) SetFilterSubject(subject grade.Subject) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filterSubject == subject {
		return
	}
	p.filterSubject = subject
	p.page = 1
}

// SetSort changes the sort field and/or order and resets the page.
func (p *Params) SetSort(sortBy, sortOrder string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sortBy == sortBy && p.sortOrder == sortOrder {
		return
	}
	p.sortBy = sortBy
	p.sortOrder = sortOrder
	p.page = 1
}

// SetPage moves to another page. Filter and sort are untouched.
func (p *Params) SetPage(page int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if page < 1 {
		page = 1
	}
	p.page = page
}

// ToggleStats flips the statistics panel; the stats query is enabled
// only while the panel is shown.
func (p *Params) ToggleStats() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.showStats = !p.showStats
	return p.showStats
}

// ShowStats reports whether the statistics panel is visible.
func (p *Params) ShowStats() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showStats
}

// ClassName returns the selected class filter.
func (p *Params) ClassName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.className
}

// StudentID returns the selected student, 0 when none is selected.
func (p *Params) StudentID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.studentID
}

// Page returns the current page.
func (p *Params) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// GradesKey returns the cache key for the current grade page.
func (p *Params) GradesKey() GradesKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return GradesKey{
		StudentID:     p.studentID,
		FilterSubject: p.filterSubject,
		SortBy:        p.sortBy,
		SortOrder:     p.sortOrder,
		Page:          p.page,
	}
}

// StatsKey returns the cache key for the current student's statistics.
func (p *Params) StatsKey() StatsKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return StatsKey{StudentID: p.studentID}
}

// StudentsKey returns the cache key for the current roster listing.
func (p *Params) StudentsKey() StudentsKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return StudentsKey{ClassName: p.className}
}
