// SPDX-License-Identifier: ice License 1.0

package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmesh/docmesh/model"
)

func validSkill() *model.Document {
	return &model.Document{
		Type:        model.DocumentTypeSkill,
		Name:        "summarize-report",
		Description: "turns a long report into bullet points",
		Body:        "read the report, extract key figures, emit bullets",
		Version:     "1.2.3",
		Tags:        []string{"productivity", "text"},
	}
}

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	t.Parallel()

	res := NewValidator().Validate(validSkill())
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
}

func TestValidateNameLength(t *testing.T) {
	t.Parallel()

	doc := validSkill()
	doc.Name = strings.Repeat("x", 101)
	res := NewValidator().Validate(doc)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "name")
}

func TestValidateRequiredFields(t *testing.T) {
	t.Parallel()

	validator := NewValidator()

	t.Run("MissingName", func(t *testing.T) {
		doc := validSkill()
		doc.Name = "  "
		res := validator.Validate(doc)
		require.False(t, res.Valid)
		require.Contains(t, res.Errors[0], "name")
	})
	t.Run("MissingVersion", func(t *testing.T) {
		doc := validSkill()
		doc.Version = ""
		res := validator.Validate(doc)
		require.False(t, res.Valid)
		require.Contains(t, res.Errors[0], "version")
	})
	t.Run("BadVersion", func(t *testing.T) {
		doc := validSkill()
		doc.Version = "latest"
		res := validator.Validate(doc)
		require.False(t, res.Valid)
		require.Contains(t, res.Errors[0], "version")
	})
	t.Run("VersionWithPrefixAndPreRelease", func(t *testing.T) {
		doc := validSkill()
		doc.Version = "v2.0.0-rc.1"
		require.True(t, validator.Validate(doc).Valid)
	})
}

func TestValidateBodyBounds(t *testing.T) {
	t.Parallel()

	validator := NewValidator()

	t.Run("TooShort", func(t *testing.T) {
		doc := validSkill()
		doc.Body = "tiny"
		res := validator.Validate(doc)
		require.False(t, res.Valid)
		require.Contains(t, res.Errors[0], "body")
	})
	t.Run("TooLong", func(t *testing.T) {
		doc := validSkill()
		doc.Body = strings.Repeat("a", (32<<10)+1)
		res := validator.Validate(doc)
		require.False(t, res.Valid)
		require.Contains(t, res.Errors[0], "body")
	})
}

func TestValidateTags(t *testing.T) {
	t.Parallel()

	validator := NewValidator()

	t.Run("TooMany", func(t *testing.T) {
		doc := validSkill()
		doc.Tags = strings.Split(strings.Repeat("t,", 11), ",")[:11]
		res := validator.Validate(doc)
		require.False(t, res.Valid)
		require.Contains(t, res.Errors[0], "tags")
	})
	t.Run("TooLong", func(t *testing.T) {
		doc := validSkill()
		doc.Tags = []string{strings.Repeat("y", 31)}
		res := validator.Validate(doc)
		require.False(t, res.Valid)
		require.Contains(t, res.Errors[0], "tags")
	})
}

func TestValidateWorkflowBody(t *testing.T) {
	t.Parallel()

	validator := NewValidator()

	t.Run("MustBeJSONObject", func(t *testing.T) {
		doc := validSkill()
		doc.Type = model.DocumentTypeWorkflow
		doc.Body = "just some plain text here"
		res := validator.Validate(doc)
		require.False(t, res.Valid)
		require.Contains(t, res.Errors[0], "body")
	})
	t.Run("ArrayIsNotEnough", func(t *testing.T) {
		doc := validSkill()
		doc.Type = model.DocumentTypeWorkflow
		doc.Body = `["step1", "step2"]`
		require.False(t, validator.Validate(doc).Valid)
	})
	t.Run("ObjectAccepted", func(t *testing.T) {
		doc := validSkill()
		doc.Type = model.DocumentTypeWorkflow
		doc.Body = `{"steps": [{"run": "summarize"}]}`
		require.True(t, validator.Validate(doc).Valid)
	})
}

func TestValidateUnknownType(t *testing.T) {
	t.Parallel()

	doc := validSkill()
	doc.Type = "malware"
	res := NewValidator().Validate(doc)
	require.False(t, res.Valid)
	require.Contains(t, res.Errors[0], "type")
}
