package generation

import "not-you-kiosk/internal/sdapi"

// RandomSeed lets the service pick a seed for the request.
const RandomSeed int64 = -1

// Params are the fixed generator settings applied to every job.
type Params struct {
	NegativePrompt string
	Steps          int
	CFGScale       float64
	Sampler        string
	Width          int
	Height         int
}

func DefaultParams() Params {
	return Params{
		NegativePrompt: "cartoon, anime, drawing, painting, sketch, low quality, blurry, distorted",
		Steps:          5,
		CFGScale:       2,
		Sampler:        "Euler a",
		Width:          512,
		Height:         512,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Steps <= 0 {
		p.Steps = d.Steps
	}
	if p.CFGScale <= 0 {
		p.CFGScale = d.CFGScale
	}
	if p.Sampler == "" {
		p.Sampler = d.Sampler
	}
	if p.Width <= 0 {
		p.Width = d.Width
	}
	if p.Height <= 0 {
		p.Height = d.Height
	}
	return p
}

func (p Params) request(prompt string, seed int64) sdapi.Txt2ImgRequest {
	return sdapi.Txt2ImgRequest{
		Prompt:           prompt,
		NegativePrompt:   p.NegativePrompt,
		Steps:            p.Steps,
		CFGScale:         p.CFGScale,
		SamplerName:      p.Sampler,
		Width:            p.Width,
		Height:           p.Height,
		BatchSize:        1,
		NIter:            1,
		Seed:             seed,
		RestoreFaces:     false,
		Tiling:           false,
		DoNotSaveSamples: true,
		DoNotSaveGrid:    true,
	}
}

// SeedSource supplies the seed at submission time.
type SeedSource interface {
	CurrentSeed() int64
}

// FixedSeed is a SeedSource that always returns itself.
type FixedSeed int64

func (s FixedSeed) CurrentSeed() int64 { return int64(s) }
