package api

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build,omitempty"`
}

type pacerResponse struct {
	Paced         bool    `json:"paced"`
	MinInterval   string  `json:"min_interval,omitempty"`
	MaxRetries    int     `json:"max_retries,omitempty"`
	BaseDelay     string  `json:"base_delay,omitempty"`
	BackoffFactor float64 `json:"backoff_factor,omitempty"`
	MaxDelay      string  `json:"max_delay,omitempty"`
	LastDispatch  *string `json:"last_dispatch"`
}
