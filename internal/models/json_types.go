package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Stage kinds recognized in a config's approval-stage list.
const (
	StageLineManager = "line_manager"
	StageGroupOwners = "group_owners"
)

// StageSpec is one step of a sequential approval chain.
type StageSpec struct {
	Kind string `json:"kind"`
}

// StageSpecList is the ordered approval-stage list of a workflow config.
type StageSpecList []StageSpec

// Value implements driver.Valuer
func (l StageSpecList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// Scan implements sql.Scanner
func (l *StageSpecList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// StageApproval holds the approver state of a single stage. Required is
// frozen at request creation; Approved grows as decisions arrive.
type StageApproval struct {
	Required []string `json:"required"`
	Approved []string `json:"approved"`
}

// StageApprovalSet maps stage number to its approval record. Keys are stage
// numbers serialized as strings, matching the JSONB column layout.
type StageApprovalSet map[string]*StageApproval

// Value implements driver.Valuer
func (s StageApprovalSet) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

// Scan implements sql.Scanner
func (s *StageApprovalSet) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// Stage returns the approval record for a stage number, or nil.
func (s StageApprovalSet) Stage(n int) *StageApproval {
	return s[strconv.Itoa(n)]
}

// MaxStage returns the highest stage number present in the set.
func (s StageApprovalSet) MaxStage() int {
	max := 0
	for k := range s {
		if n, err := strconv.Atoi(k); err == nil && n > max {
			max = n
		}
	}
	return max
}

// StageNumbers returns the stage numbers present, ascending.
func (s StageApprovalSet) StageNumbers() []int {
	nums := make([]int, 0, len(s))
	for k := range s {
		if n, err := strconv.Atoi(k); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums
}

// Delegation substitutes one approver for another while the original is away.
type Delegation struct {
	Original string `json:"original"`
	Delegate string `json:"delegate"`
}

// DelegationList is the ordered set of active delegations on a request.
type DelegationList []Delegation

// Value implements driver.Valuer
func (l DelegationList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// Scan implements sql.Scanner
func (l *DelegationList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
