package sdapi

// Txt2ImgRequest is the body of POST /sdapi/v1/txt2img.
type Txt2ImgRequest struct {
	Prompt           string  `json:"prompt"`
	NegativePrompt   string  `json:"negative_prompt"`
	Steps            int     `json:"steps"`
	CFGScale         float64 `json:"cfg_scale"`
	SamplerName      string  `json:"sampler_name"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	BatchSize        int     `json:"batch_size"`
	NIter            int     `json:"n_iter"`
	Seed             int64   `json:"seed"`
	RestoreFaces     bool    `json:"restore_faces"`
	Tiling           bool    `json:"tiling"`
	DoNotSaveSamples bool    `json:"do_not_save_samples"`
	DoNotSaveGrid    bool    `json:"do_not_save_grid"`
}

type Txt2ImgResponse struct {
	// Images are base64 encoded PNGs, the first one is the portrait.
	Images []string `json:"images"`
	Info   string   `json:"info,omitempty"`
}
