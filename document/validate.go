// SPDX-License-Identifier: ice License 1.0

package document

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/docmesh/docmesh/model"
)

type (
	Result struct {
		Valid    bool
		Errors   []string
		Warnings []string
	}

	typeRules struct {
		MinBodyBytes    int
		MaxBodyBytes    int
		BodyWellFormed  func(body string) error
		RequiredVersion bool
	}

	Validator struct {
		perType map[model.DocumentType]typeRules
	}
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
	maxTagCount          = 10
	maxTagLength         = 30
)

var semverPattern = regexp.MustCompile(`^v?\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?$`)

func NewValidator() *Validator {
	return &Validator{perType: map[model.DocumentType]typeRules{
		model.DocumentTypeWorkflow: {
			MinBodyBytes:    10,
			MaxBodyBytes:    64 << 10,
			RequiredVersion: true,
			BodyWellFormed:  workflowBodyWellFormed,
		},
		model.DocumentTypeSkill:    {MinBodyBytes: 10, MaxBodyBytes: 32 << 10, RequiredVersion: true},
		model.DocumentTypePlaybook: {MinBodyBytes: 10, MaxBodyBytes: 32 << 10, RequiredVersion: true},
		model.DocumentTypeRecipe:   {MinBodyBytes: 10, MaxBodyBytes: 32 << 10, RequiredVersion: true},
	}}
}

// Validate enforces the structural rules for a document type. It is a purely
// local check, safety scanning is a separate pass.
func (v *Validator) Validate(doc *model.Document) Result {
	var res Result

	rules, ok := v.perType[doc.Type]
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("type: unknown document type %q", doc.Type))

		return res
	}

	if strings.TrimSpace(doc.Name) == "" {
		res.Errors = append(res.Errors, "name: required")
	} else if len(doc.Name) > maxNameLength {
		res.Errors = append(res.Errors, fmt.Sprintf("name: exceeds %v characters", maxNameLength))
	}
	if len(doc.Description) > maxDescriptionLength {
		res.Errors = append(res.Errors, fmt.Sprintf("description: exceeds %v characters", maxDescriptionLength))
	}
	if len(doc.Body) < rules.MinBodyBytes {
		res.Errors = append(res.Errors, fmt.Sprintf("body: shorter than %v bytes", rules.MinBodyBytes))
	}
	if len(doc.Body) > rules.MaxBodyBytes {
		res.Errors = append(res.Errors, fmt.Sprintf("body: exceeds %v bytes", rules.MaxBodyBytes))
	}
	if rules.RequiredVersion {
		if doc.Version == "" {
			res.Errors = append(res.Errors, "version: required")
		} else if !semverPattern.MatchString(doc.Version) {
			res.Errors = append(res.Errors, fmt.Sprintf("version: %q is not a semantic version", doc.Version))
		}
	}
	if len(doc.Tags) > maxTagCount {
		res.Errors = append(res.Errors, fmt.Sprintf("tags: more than %v tags", maxTagCount))
	}
	for _, tag := range doc.Tags {
		if len(tag) > maxTagLength {
			res.Errors = append(res.Errors, fmt.Sprintf("tags: tag %q exceeds %v characters", truncateTag(tag), maxTagLength))
			break
		}
	}
	if rules.BodyWellFormed != nil && len(doc.Body) >= rules.MinBodyBytes {
		if err := rules.BodyWellFormed(doc.Body); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("body: %v", err))
		}
	}
	if doc.Description == "" {
		res.Warnings = append(res.Warnings, "description: empty, the document will be hard to discover")
	}

	res.Valid = len(res.Errors) == 0

	return res
}

func workflowBodyWellFormed(body string) error {
	if !gjson.Valid(body) || !gjson.Parse(body).IsObject() {
		return fmt.Errorf("workflow body must be a JSON object")
	}

	return nil
}

func truncateTag(tag string) string {
	if len(tag) <= maxTagLength {
		return tag
	}

	return tag[:maxTagLength] + "…"
}
