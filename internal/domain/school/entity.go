// Package school holds the read-only roster entities: students and
// classes. The client never mutates these.
package school

// Student as listed in the teacher dashboard.
type Student struct {
	ID        int
	Name      string
	ClassName string
}

// Class is a school class such as "10A".
type Class struct {
	ID   int
	Name string
}
