// Package constraint evaluates ordered chains of policy checks and builds the
// resulting report.
package constraint

import (
	"fmt"

	"github.com/georgepadayatti/trustval/policy"
)

// Item is one check of a chain.
type Item interface {
	// Constraint returns the policy constraint of the check. A nil constraint
	// skips the check without an outcome.
	Constraint() *policy.LevelConstraint
	// Process evaluates the check predicate.
	Process() (bool, error)
	// MessageTag names the question the check answers.
	MessageTag() MessageTag
	// ErrorTag names the failure answer.
	ErrorTag() MessageTag
	FailureIndication() Indication
	FailureSubIndication() SubIndication
	// AdditionalInfo is free text attached to the outcome.
	AdditionalInfo() string
}

// Message is a tagged report message.
type Message struct {
	Tag  MessageTag `json:"tag"`
	Info string     `json:"info,omitempty"`
}

// Outcome is the recorded result of one check.
type Outcome struct {
	Tag            MessageTag    `json:"tag"`
	Status         Status        `json:"status"`
	ErrorTag       MessageTag    `json:"error_tag,omitempty"`
	Indication     Indication    `json:"indication,omitempty"`
	SubIndication  SubIndication `json:"sub_indication,omitempty"`
	AdditionalInfo string        `json:"additional_info,omitempty"`
}

// Conclusion aggregates a chain. Indication is PASSED unless a FAIL level
// check failed; warnings and infos are collected either way.
type Conclusion struct {
	Indication    Indication    `json:"indication"`
	SubIndication SubIndication `json:"sub_indication,omitempty"`
	Errors        []Message     `json:"errors,omitempty"`
	Warnings      []Message     `json:"warnings,omitempty"`
	Infos         []Message     `json:"infos,omitempty"`
}

// Valid reports whether the conclusion carries no failing indication.
func (c Conclusion) Valid() bool {
	return !c.Indication.IsFailure()
}

// Result is the report of one executed chain.
type Result struct {
	Title      string     `json:"title"`
	Outcomes   []Outcome  `json:"outcomes"`
	Conclusion Conclusion `json:"conclusion"`
}

// Chain runs items in order.
type Chain struct {
	title string
	items []Item
}

// NewChain creates an empty chain.
func NewChain(title string) *Chain {
	return &Chain{title: title}
}

// Add appends items to the chain.
func (c *Chain) Add(items ...Item) *Chain {
	c.items = append(c.items, items...)
	return c
}

// Len returns the number of items.
func (c *Chain) Len() int { return len(c.items) }

// Execute evaluates the items in order.
//
// An item without constraint emits nothing. IGNORE emits INFORMATION without
// evaluating the predicate. A failing item emits INFORMATION at INFORM,
// WARNING at WARN and NOT OK at FAIL; a FAIL sets the conclusion indication and
// stops the chain. An item whose predicate errors or panics fails with
// INDETERMINATE/POLICY_PROCESSING_ERROR at its level.
func (c *Chain) Execute() Result {
	res := Result{
		Title:      c.title,
		Conclusion: Conclusion{Indication: Passed},
	}
	for _, item := range c.items {
		constraint := item.Constraint()
		if constraint == nil {
			continue
		}
		level := constraint.Level
		if !level.Known() {
			level = policy.LevelFail
		}

		outcome := Outcome{Tag: item.MessageTag()}
		if level == policy.LevelIgnore {
			outcome.Status = StatusInformation
			res.Outcomes = append(res.Outcomes, outcome)
			continue
		}

		ok, err := process(item)
		if ok && err == nil {
			outcome.Status = StatusOK
			res.Outcomes = append(res.Outcomes, outcome)
			continue
		}

		outcome.ErrorTag = item.ErrorTag()
		outcome.Indication = item.FailureIndication()
		outcome.SubIndication = item.FailureSubIndication()
		outcome.AdditionalInfo = item.AdditionalInfo()
		if err != nil {
			outcome.ErrorTag = ErrPolicyProcessing
			outcome.Indication = Indeterminate
			outcome.SubIndication = PolicyProcessingError
			outcome.AdditionalInfo = err.Error()
		}
		msg := Message{Tag: outcome.ErrorTag, Info: outcome.AdditionalInfo}

		switch level {
		case policy.LevelInform:
			outcome.Status = StatusInformation
			if err != nil {
				outcome.Status = StatusNotOK
			}
			outcome.Indication, outcome.SubIndication = "", ""
			res.Conclusion.Infos = append(res.Conclusion.Infos, msg)
		case policy.LevelWarn:
			outcome.Status = StatusWarning
			if err != nil {
				outcome.Status = StatusNotOK
			}
			outcome.Indication, outcome.SubIndication = "", ""
			res.Conclusion.Warnings = append(res.Conclusion.Warnings, msg)
		default:
			outcome.Status = StatusNotOK
			if outcome.Indication == "" {
				outcome.Indication = Failed
			}
			res.Conclusion.Errors = append(res.Conclusion.Errors, msg)
			res.Conclusion.Indication = outcome.Indication
			res.Conclusion.SubIndication = outcome.SubIndication
			res.Outcomes = append(res.Outcomes, outcome)
			return res
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}
	return res
}

// process runs the item predicate, turning a panic into an error.
func process(item Item) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("check %s panicked: %v", item.MessageTag(), r)
		}
	}()
	return item.Process()
}

// Check is a generic Item over a predicate.
type Check struct {
	constraint    *policy.LevelConstraint
	predicate     func() (bool, error)
	tag           MessageTag
	errorTag      MessageTag
	indication    Indication
	subIndication SubIndication
	info          string
}

// NewCheck creates a check answering tag with predicate. Failures report
// errorTag with FAILED and no sub-indication unless WithFailure is used.
func NewCheck(constraint *policy.LevelConstraint, tag, errorTag MessageTag, predicate func() (bool, error)) *Check {
	return &Check{
		constraint: constraint,
		predicate:  predicate,
		tag:        tag,
		errorTag:   errorTag,
		indication: Failed,
	}
}

// WithFailure sets the indication and sub-indication reported on failure.
func (c *Check) WithFailure(indication Indication, sub SubIndication) *Check {
	c.indication = indication
	c.subIndication = sub
	return c
}

// WithInfo sets the additional information reported on failure.
func (c *Check) WithInfo(info string) *Check {
	c.info = info
	return c
}

// Constraint returns the level constraint the check is evaluated under.
func (c *Check) Constraint() *policy.LevelConstraint { return c.constraint }

// MessageTag returns the tag describing what is checked.
func (c *Check) MessageTag() MessageTag { return c.tag }

// ErrorTag returns the tag reported when the check fails.
func (c *Check) ErrorTag() MessageTag { return c.errorTag }

// FailureIndication returns the indication concluded on failure.
func (c *Check) FailureIndication() Indication { return c.indication }

// FailureSubIndication returns the sub-indication concluded on failure.
func (c *Check) FailureSubIndication() SubIndication { return c.subIndication }

// AdditionalInfo returns the detail reported on failure.
func (c *Check) AdditionalInfo() string { return c.info }

// Process evaluates the predicate. A check without one is an error.
func (c *Check) Process() (bool, error) {
	if c.predicate == nil {
		return false, fmt.Errorf("check %s has no predicate", c.tag)
	}
	return c.predicate()
}

// ProcessingFailure is the result of a subject that could not be evaluated
// at all. It concludes INDETERMINATE/POLICY_PROCESSING_ERROR.
func ProcessingFailure(title string, err error) Result {
	return Result{
		Title: title,
		Conclusion: Conclusion{
			Indication:    Indeterminate,
			SubIndication: PolicyProcessingError,
			Errors:        []Message{{Tag: ErrPolicyProcessing, Info: err.Error()}},
		},
	}
}
