package main

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string `json:"status" example:"healthy"`
	Resources int    `json:"resources" example:"2"`
	Database  string `json:"database" example:"postgres"`
	Flash     string `json:"flash" example:"redis"`
}

// ResourceResponse describes one mounted resource
type ResourceResponse struct {
	Alias        string   `json:"alias" example:"Users"`
	Path         string   `json:"path" example:"/users"`
	Columns      []string `json:"columns" example:"id,name,created"`
	Associations []string `json:"associations,omitempty" example:"Profile"`
}

// ResourcesResponse is returned by GET /resources
type ResourcesResponse struct {
	Resources []ResourceResponse `json:"resources"`
}

// ErrorResponse is returned by the service endpoints on failure
type ErrorResponse struct {
	Error   string `json:"error" example:"database unavailable"`
	Details string `json:"details,omitempty" example:"dial tcp: connection refused"`
}
