package dto

// IdentityResponse is one enrolled identity, per spec §3.
type IdentityResponse struct {
	ID        int     `json:"id"`
	PersonID  string  `json:"person_id"`
	Label     string  `json:"label"`
	PhotoURL  string  `json:"photo_url,omitempty"`
	BBox      [4]float64 `json:"bbox"`
	Timestamp string  `json:"ts"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
}

// EnrollRequest is C8's HTTP-facing input, per spec §4.8.
type EnrollRequest struct {
	Label        string `json:"label" binding:"required"`
	ImageB64     string `json:"image_b64,omitempty"`
	PreviewToken string `json:"preview_token,omitempty"`
	Force        bool   `json:"force"`
}

type EnrollResponse struct {
	PersonID string `json:"person_id"`
	ID       int    `json:"id"`
	PhotoURL string `json:"photo_url"`
}

// PreviewRequest asks C11/C1 to prepare (not persist) an enrollment
// candidate so the client can confirm before committing.
type PreviewRequest struct {
	ImageB64 string `json:"image_b64" binding:"required"`
}

type PreviewResponse struct {
	Token string     `json:"token"`
	BBox  [4]float64 `json:"bbox"`
}
