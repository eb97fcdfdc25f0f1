package gemini

import "github.com/mhpenta/imagebatch"

// NanoBanana2Info is the model info for Gemini 3 Pro Image (nano-banana-2).
//
// Nano Banana Pro (official name: Gemini 3 Pro Image) is Google DeepMind's
// image generation and editing model, built on Gemini 3 Pro.
var NanoBanana2Info = imagebatch.ModelInfo{
	Name:         "nano-banana-2",
	Provider:     imagebatch.ProviderGeminiAPI,
	APIModelName: APIModelNanoBanana2,

	Capabilities: imagebatch.ModelCapabilities{
		SupportsTextToImage:  true,
		SupportsImageEditing: true,
		SupportsMultiImage:   true,
		SupportsConversation: true,
		SupportsStreaming:    false,
		SupportsGrounding:    true,
		SupportsThinking:     true,
		MaxInputImages:       14,
		MaxOutputImages:      4,
	},

	ContextLength: 1048576, // 1M tokens

	ImageConstraints: imagebatch.ImageConstraints{
		SupportedAspectRatios: []imagebatch.AspectRatio{
			imagebatch.AspectRatio1x1,
			imagebatch.AspectRatio16x9,
			imagebatch.AspectRatio9x16,
			imagebatch.AspectRatio4x3,
			imagebatch.AspectRatio3x4,
			imagebatch.AspectRatio2x3,
			imagebatch.AspectRatio3x2,
			imagebatch.AspectRatio4x5,
			imagebatch.AspectRatio5x4,
			imagebatch.AspectRatio21x9,
		},
		SupportedSizes: []imagebatch.ImageSize{
			imagebatch.ImageSize1K,
			imagebatch.ImageSize2K,
			imagebatch.ImageSize4K,
		},
	},

	RateLimits: imagebatch.RateLimits{
		TokensPerMinute:   4000000,
		RequestsPerMinute: 360,
		TokensPerDay:      1000000000,
	},

	// Pricing as of November 2025 for prompts ≤200K tokens.
	// For prompts >200K tokens, prices double ($4/$24 per million).
	// Image output is priced at ~$120/million tokens ($0.039 per 1024x1024 image).
	// Approximate costs: 4K image ~$0.24, 1K/2K image ~$0.134.
	Pricing: imagebatch.Pricing{
		InputTokensPerMillion:  2.00,
		OutputTokensPerMillion: 12.00,
	},
}

var NanoBanana1Info = imagebatch.ModelInfo{
	Name:         "nano-banana-1",
	Provider:     imagebatch.ProviderGeminiAPI,
	APIModelName: APIModelNanoBanana1,

	Capabilities: imagebatch.ModelCapabilities{
		SupportsTextToImage:  true,
		SupportsImageEditing: true,
		SupportsMultiImage:   true,
		SupportsConversation: true,
		SupportsStreaming:    false,
		SupportsGrounding:    true,
		SupportsThinking:     true,
		MaxInputImages:       14, // Practical limit
		MaxOutputImages:      4,
	},

	ContextLength: 1048576, // 1M tokens

	ImageConstraints: imagebatch.ImageConstraints{
		SupportedAspectRatios: []imagebatch.AspectRatio{
			imagebatch.AspectRatio1x1,
			imagebatch.AspectRatio16x9,
			imagebatch.AspectRatio9x16,
			imagebatch.AspectRatio4x3,
			imagebatch.AspectRatio3x4,
			imagebatch.AspectRatio2x3,
			imagebatch.AspectRatio3x2,
			imagebatch.AspectRatio4x5,
			imagebatch.AspectRatio5x4,
			imagebatch.AspectRatio21x9,
		},

		// Flash Image only supports ~1024px output (1K)
		SupportedSizes: []imagebatch.ImageSize{
			imagebatch.ImageSize1K,
		},
	},

	RateLimits: imagebatch.RateLimits{
		TokensPerMinute:   4000000,
		RequestsPerMinute: 500, // ~500 RPM for Tier 1
		TokensPerDay:      1000000000,
	},

	Pricing: imagebatch.Pricing{
		InputTokensPerMillion:  0.15,
		OutputTokensPerMillion: 0.60,
	},
}
