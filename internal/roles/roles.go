// Package roles defines the fixed seven-level role hierarchy. Levels are
// numerically increasing with authority. All functions are pure and total
// over the integer domain; out-of-range levels are rejected at the service
// boundary, not here.
package roles

// Level is a role level, 1 (Intern) through 7 (Owner).
type Level int

const (
	Intern   Level = 1
	Junior   Level = 2
	Senior   Level = 3
	Manager  Level = 4
	Director Level = 5
	Exec     Level = 6
	Owner    Level = 7
)

const (
	// Min and Max bound the valid level domain.
	Min = int(Intern)
	Max = int(Owner)
)

var names = map[Level]string{
	Intern:   "Intern",
	Junior:   "Junior",
	Senior:   "Senior",
	Manager:  "Manager",
	Director: "Director",
	Exec:     "Exec",
	Owner:    "Owner",
}

var descriptions = map[Level]string{
	Owner:    "Full system access and user management",
	Exec:     "Executive level access",
	Director: "Director level access",
	Manager:  "Team management and oversight",
	Senior:   "Senior team member",
	Junior:   "Junior team member",
	Intern:   "Limited access",
}

// CanManage reports whether a user at managerLevel may manage (invite, edit,
// deactivate) a user at targetLevel. Strictly greater: peers cannot manage
// each other and no level manages itself.
func CanManage(managerLevel, targetLevel int) bool {
	return managerLevel > targetLevel
}

// Name returns the display name for a level, or "Unknown" for any level
// outside the fixed domain.
func Name(level int) string {
	if n, ok := names[Level(level)]; ok {
		return n
	}
	return "Unknown"
}

// LevelOf returns the level for a role name, or 0 if the name is unknown.
func LevelOf(name string) int {
	for l, n := range names {
		if n == name {
			return int(l)
		}
	}
	return 0
}

// Description returns the description for a level, empty for unmapped levels.
func Description(level int) string {
	return descriptions[Level(level)]
}

// Valid reports whether level is inside the fixed 1-7 domain.
func Valid(level int) bool {
	return level >= Min && level <= Max
}

// Subordinates returns every level strictly below the given level, ascending.
func Subordinates(level int) []Level {
	var subs []Level
	for l := Intern; l <= Owner; l++ {
		if int(l) < level {
			subs = append(subs, l)
		}
	}
	return subs
}
