package domain

import (
	"fmt"
	"strings"
)

// MutationKind enumerates write operations on dictionary entries.
type MutationKind string

const (
	MutationAdd    MutationKind = "add"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is a single write inside a mutation batch.
// ID is ignored for MutationAdd; Attributes are ignored for MutationDelete.
type Mutation struct {
	Kind       MutationKind
	ID         int64
	Attributes Attributes
}

const (
	maxAttributes     = 64
	maxAttrNameLen    = 64
	maxAttrValueLen   = 4000
	maxWordTextLength = 500
)

// ValidateMutations checks a mutation batch and collects all field errors.
func ValidateMutations(muts []Mutation, maxBatch int) error {
	if len(muts) == 0 {
		return NewValidationError("mutations", "required (at least 1)")
	}
	if maxBatch > 0 && len(muts) > maxBatch {
		return NewValidationError("mutations", fmt.Sprintf("too many (max %d)", maxBatch))
	}

	var errs []FieldError
	for i, m := range muts {
		field := func(name string) string { return fmt.Sprintf("mutations[%d].%s", i, name) }

		switch m.Kind {
		case MutationAdd:
			errs = append(errs, validateAttributes(field("attributes"), m.Attributes, true)...)
		case MutationUpdate:
			if m.ID <= 0 {
				errs = append(errs, FieldError{Field: field("id"), Message: "must be positive"})
			}
			errs = append(errs, validateAttributes(field("attributes"), m.Attributes, true)...)
		case MutationDelete:
			if m.ID <= 0 {
				errs = append(errs, FieldError{Field: field("id"), Message: "must be positive"})
			}
		default:
			errs = append(errs, FieldError{Field: field("kind"), Message: fmt.Sprintf("unknown kind %q", m.Kind)})
		}
	}

	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}

// ValidateAttributes checks the attribute bag of a single new word against the
// same limits ValidateMutations applies to ADD mutations.
func ValidateAttributes(attrs Attributes) error {
	if errs := validateAttributes("attributes", attrs, true); len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}

func validateAttributes(field string, attrs Attributes, requireText bool) []FieldError {
	var errs []FieldError

	if requireText && NormalizeText(attrs.Text()) == "" {
		errs = append(errs, FieldError{Field: field + ".text", Message: "required"})
	} else if len(attrs.Text()) > maxWordTextLength {
		errs = append(errs, FieldError{Field: field + ".text", Message: fmt.Sprintf("too long (max %d)", maxWordTextLength)})
	}
	if len(attrs) > maxAttributes {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("too many (max %d)", maxAttributes)})
	}
	for _, name := range attrs.SortedNames() {
		if strings.TrimSpace(name) == "" || len(name) > maxAttrNameLen {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("invalid attribute name %q", name)})
		}
		if len(attrs[name]) > maxAttrValueLen {
			errs = append(errs, FieldError{Field: field + "." + name, Message: fmt.Sprintf("too long (max %d)", maxAttrValueLen)})
		}
	}
	return errs
}

// CommitResult describes a committed mutation batch.
// AddedIDs holds the ids assigned to MutationAdd entries, in batch order.
type CommitResult struct {
	Version  DictionaryVersion
	Added    int
	Updated  int
	Deleted  int
	AddedIDs []int64
}

// PurgeResult describes a retention purge.
type PurgeResult struct {
	HistoryHorizon int64
	Purged         int
}
