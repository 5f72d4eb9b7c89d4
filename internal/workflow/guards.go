package workflow

import (
	"context"
	"fmt"
)

// GuardFor adapts a typed check into a Guard. A subject of another type fails
// the guard.
func GuardFor[T any](name string, check func(ctx context.Context, subject T) error) Guard {
	return Guard{
		Name: name,
		Check: func(ctx context.Context, subject any) error {
			typed, ok := subject.(T)
			if !ok {
				return fmt.Errorf("unexpected subject %T", subject)
			}
			return check(ctx, typed)
		},
	}
}

// States is shorthand for a from-state list.
func States(states ...State) []State { return states }

// Roles is shorthand for a role list.
func Roles(roles ...Role) []Role { return roles }
