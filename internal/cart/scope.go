package cart

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/tableside/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
)

// Identity names the shopper a cart belongs to. Exactly one field must be set.
type Identity struct {
	TableNumber int
	MemberID    string
}

// ScopeKey namespaces a cart in storage: "guest:<table>" or "member:<id>".
type ScopeKey string

const scopeSeparator = ":"

// ResolveScope derives the storage namespace for an identity.
func ResolveScope(id Identity) (ScopeKey, error) {
	member := strings.TrimSpace(id.MemberID)
	switch {
	case id.TableNumber != 0 && member != "":
		return "", pkgerrors.New(pkgerrors.CodeValidation, "identity must be either a table or a member, not both")
	case id.TableNumber < 0:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "table number must be positive")
	case id.TableNumber > 0:
		return ScopeKey(enums.ScopeKindGuest.String() + scopeSeparator + strconv.Itoa(id.TableNumber)), nil
	case member != "":
		return ScopeKey(enums.ScopeKindMember.String() + scopeSeparator + member), nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "a table number or member id is required")
}

// ParseScope validates a previously resolved scope key.
func ParseScope(raw string) (ScopeKey, error) {
	kind, rest, ok := strings.Cut(raw, scopeSeparator)
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("malformed scope key %q", raw))
	}
	switch enums.ScopeKind(kind) {
	case enums.ScopeKindGuest:
		n, err := strconv.Atoi(rest)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("malformed scope key %q", raw))
		}
		return ResolveScope(Identity{TableNumber: n})
	case enums.ScopeKindMember:
		return ResolveScope(Identity{MemberID: rest})
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("malformed scope key %q", raw))
}

// Kind reports whether the scope is a guest table or a member.
func (s ScopeKey) Kind() enums.ScopeKind {
	kind, _, _ := strings.Cut(string(s), scopeSeparator)
	return enums.ScopeKind(kind)
}

// IsGuest reports whether the scope is a table cart.
func (s ScopeKey) IsGuest() bool {
	return s.Kind() == enums.ScopeKindGuest
}

// TableNumber returns the table of a guest scope.
func (s ScopeKey) TableNumber() (int, bool) {
	if !s.IsGuest() {
		return 0, false
	}
	_, rest, _ := strings.Cut(string(s), scopeSeparator)
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s ScopeKey) String() string { return string(s) }

func (s ScopeKey) validate() error {
	_, err := ParseScope(string(s))
	return err
}

func cartKey(scope ScopeKey) string {
	return "cart_" + string(scope)
}

func guestNameKey(table int) string {
	return "guest_name_table_" + strconv.Itoa(table)
}
