// SPDX-License-Identifier: ice License 1.0

package model

type (
	DocumentType string

	Document struct {
		Type        DocumentType
		Name        string
		Description string
		Body        string
		Version     string
		Tags        []string
		Meta        map[string]string
	}

	ProfileMetadataContent struct {
		Name        string `json:"name,omitempty"`
		About       string `json:"about,omitempty"`
		Picture     string `json:"picture,omitempty"`
		DisplayName string `json:"display_name,omitempty"`
		Website     string `json:"website,omitempty"`
		Banner      string `json:"banner,omitempty"`
		Lud16       string `json:"lud16,omitempty"`
		Bot         bool   `json:"bot,omitempty"`
	}
)

const (
	DocumentTypeWorkflow DocumentType = "workflow"
	DocumentTypeSkill    DocumentType = "skill"
	DocumentTypePlaybook DocumentType = "playbook"
	DocumentTypeRecipe   DocumentType = "recipe"
)

func (t DocumentType) Known() bool {
	switch t {
	case DocumentTypeWorkflow, DocumentTypeSkill, DocumentTypePlaybook, DocumentTypeRecipe:
		return true
	}

	return false
}
