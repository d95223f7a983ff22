package submission

// CreateInput is the request body for a new submission.
type CreateInput struct {
	Prompt   string `json:"prompt" validate:"required,max=2000"`
	Content  string `json:"content" validate:"required,min=20,max=20000"`
	AgeGroup string `json:"age_group" validate:"required,age_group"`
}
