package sku

const (
	llama3VocabSize = 128256
	llama4VocabSize = 202048
)

var (
	recommendedLlama2 = SamplingParams{Strategy: SamplingTopP, Temperature: 0.6, TopP: 0.9, RepetitionPenalty: 1.0}
	recommendedLlama3 = SamplingParams{Strategy: SamplingTopP, Temperature: 0.6, TopP: 0.9, RepetitionPenalty: 1.0}
	recommendedGuard  = SamplingParams{Strategy: SamplingGreedy, RepetitionPenalty: 1.0}
)

func llama2Arch(dim, layers, heads, kvHeads int, ffnMult float64) map[string]any {
	args := map[string]any{
		"dim":         dim,
		"n_layers":    layers,
		"n_heads":     heads,
		"n_kv_heads":  kvHeads,
		"vocab_size":  32000,
		"multiple_of": 256,
		"norm_eps":    1e-05,
		"rope_theta":  10000.0,
	}
	if ffnMult > 0 {
		args["ffn_dim_multiplier"] = ffnMult
	}
	return args
}

func llama3Arch(dim, layers, heads, kvHeads, multipleOf int, ffnMult float64, scaledRope bool) map[string]any {
	return map[string]any{
		"dim":                dim,
		"n_layers":           layers,
		"n_heads":            heads,
		"n_kv_heads":         kvHeads,
		"vocab_size":         llama3VocabSize,
		"ffn_dim_multiplier": ffnMult,
		"multiple_of":        multipleOf,
		"norm_eps":           1e-05,
		"rope_theta":         500000.0,
		"use_scaled_rope":    scaledRope,
	}
}

func llama4Arch(experts, interleave int, rope bool) map[string]any {
	args := map[string]any{
		"dim":                   5120,
		"n_layers":              48,
		"n_heads":               40,
		"n_kv_heads":            8,
		"head_dim":              128,
		"vocab_size":            llama4VocabSize,
		"ffn_dim_multiplier":    1.2,
		"ffn_exp":               4.0,
		"multiple_of":           2048,
		"norm_eps":              1e-05,
		"rope_theta":            500000.0,
		"use_scaled_rope":       rope,
		"nope_layer_interval":   4,
		"use_qk_norm":           !rope,
		"attention_chunk_size":  8192,
		"max_seq_len":           1048576,
		"rope_scaling_factor":   16.0,
		"rope_high_freq_factor": 1.0,
		"moe_args": map[string]any{
			"num_experts":               experts,
			"capacity_factor":           1.0,
			"auto_scale_F":              true,
			"top_k":                     1,
			"interleave_moe_layer_step": interleave,
		},
	}
	if !rope {
		delete(args, "rope_scaling_factor")
		delete(args, "rope_high_freq_factor")
	}
	return args
}

func llama2Family() []Model {
	base := []struct {
		id, desc, repo string
		dim, layers    int
		heads, kv      int
		files          int
		mult           float64
	}{
		{"Llama-2-7b", "Llama 2 7b model", "meta-llama/Llama-2-7b", 4096, 32, 32, 32, 1, 0},
		{"Llama-2-13b", "Llama 2 13b model", "meta-llama/Llama-2-13b", 5120, 40, 40, 40, 1, 0},
		{"Llama-2-70b", "Llama 2 70b model", "meta-llama/Llama-2-70b", 8192, 80, 64, 8, 8, 1.3},
	}
	var out []Model
	for _, b := range base {
		out = append(out, Model{
			CoreModelID:         b.id,
			Family:              FamilyLlama2,
			Description:         b.desc,
			HuggingFaceRepo:     b.repo,
			ArchArgs:            llama2Arch(b.dim, b.layers, b.heads, b.kv, b.mult),
			QuantizationFormat:  FormatBF16,
			PthFileCount:        b.files,
			RecommendedSampling: recommendedLlama2,
			MaxSeqLength:        4096,
		})
	}
	for _, b := range base {
		out = append(out, Model{
			CoreModelID:         b.id + "-chat",
			Family:              FamilyLlama2,
			Description:         b.desc[:len(b.desc)-len("model")] + "chat model",
			HuggingFaceRepo:     b.repo + "-chat",
			ArchArgs:            llama2Arch(b.dim, b.layers, b.heads, b.kv, b.mult),
			QuantizationFormat:  FormatBF16,
			PthFileCount:        b.files,
			RecommendedSampling: recommendedLlama2,
			MaxSeqLength:        4096,
			Instruct:            true,
		})
	}
	return out
}

func llama3Family() []Model {
	return []Model{
		{
			CoreModelID: "Llama-3-8B", Family: FamilyLlama3, Description: "Llama 3 8b model",
			HuggingFaceRepo: "meta-llama/Meta-Llama-3-8B", ArchArgs: llama3Arch(4096, 32, 32, 8, 1024, 1.3, false),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: 8192,
		},
		{
			CoreModelID: "Llama-3-70B", Family: FamilyLlama3, Description: "Llama 3 70b model",
			HuggingFaceRepo: "meta-llama/Meta-Llama-3-70B", ArchArgs: llama3Arch(8192, 80, 64, 8, 4096, 1.3, false),
			QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: 8192,
		},
		{
			CoreModelID: "Llama-3-8B-Instruct", Family: FamilyLlama3, Description: "Llama 3 8b instruct model",
			HuggingFaceRepo: "meta-llama/Meta-Llama-3-8B-Instruct", ArchArgs: llama3Arch(4096, 32, 32, 8, 1024, 1.3, false),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: 8192, Instruct: true,
		},
		{
			CoreModelID: "Llama-3-70B-Instruct", Family: FamilyLlama3, Description: "Llama 3 70b instruct model",
			HuggingFaceRepo: "meta-llama/Meta-Llama-3-70B-Instruct", ArchArgs: llama3Arch(8192, 80, 64, 8, 4096, 1.3, false),
			QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: 8192, Instruct: true,
		},
	}
}

func llama31Family() []Model {
	const ctx = 131072
	arch8 := func() map[string]any { return llama3Arch(4096, 32, 32, 8, 1024, 1.3, true) }
	arch70 := func() map[string]any { return llama3Arch(8192, 80, 64, 8, 4096, 1.3, true) }
	arch405 := func() map[string]any { return llama3Arch(16384, 126, 128, 8, 4096, 1.2, true) }

	var out []Model
	for _, instruct := range []bool{false, true} {
		suffix, descSuffix, repoSuffix := "", "model", ""
		if instruct {
			suffix, descSuffix, repoSuffix = "-Instruct", "instruct model", "-Instruct"
		}
		out = append(out,
			Model{
				CoreModelID: "Llama3.1-8B" + suffix, Family: FamilyLlama31, Description: "Llama 3.1 8b " + descSuffix,
				HuggingFaceRepo: "meta-llama/Llama-3.1-8B" + repoSuffix, ArchArgs: arch8(),
				QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: instruct,
			},
			Model{
				CoreModelID: "Llama3.1-70B" + suffix, Family: FamilyLlama31, Description: "Llama 3.1 70b " + descSuffix,
				HuggingFaceRepo: "meta-llama/Llama-3.1-70B" + repoSuffix, ArchArgs: arch70(),
				QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: instruct,
			},
			Model{
				CoreModelID: "Llama3.1-405B" + suffix, Variant: "bf16-mp8", Family: FamilyLlama31,
				Description: "Llama 3.1 405b " + descSuffix + " (BF16 weights)",
				ArchArgs:    arch405(), QuantizationFormat: FormatBF16, PthFileCount: 8,
				RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: instruct,
			},
			Model{
				CoreModelID: "Llama3.1-405B" + suffix, Family: FamilyLlama31,
				Description:     "Llama 3.1 405b " + descSuffix + " (FP8 quantized)",
				HuggingFaceRepo: "meta-llama/Llama-3.1-405B" + repoSuffix + "-FP8",
				ArchArgs:        arch405(), QuantizationFormat: FormatFP8Mixed, PthFileCount: 8,
				RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: instruct,
			},
			Model{
				CoreModelID: "Llama3.1-405B" + suffix, Variant: "bf16-mp16", Family: FamilyLlama31,
				Description:     "Llama 3.1 405b " + descSuffix + " (BF16 weights for mp16)",
				HuggingFaceRepo: "meta-llama/Llama-3.1-405B" + repoSuffix,
				ArchArgs:        arch405(), QuantizationFormat: FormatBF16, PthFileCount: 16,
				RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: instruct,
			},
		)
	}
	return out
}

func llama32Family() []Model {
	const ctx = 131072
	arch1 := func() map[string]any { return llama3Arch(2048, 16, 32, 8, 256, 1.5, true) }
	arch3 := func() map[string]any { return llama3Arch(3072, 28, 24, 8, 256, 1.0, true) }
	vision := func(dim, layers, heads int, mult float64) map[string]any {
		args := llama3Arch(dim, layers, heads, 8, 1024, mult, true)
		args["vision_chunk_size"] = 560
		args["vision_max_num_chunks"] = 4
		args["vision_num_cross_attention_layers"] = layers / 5
		return args
	}

	out := []Model{
		{
			CoreModelID: "Llama3.2-1B", Family: FamilyLlama32, Description: "Llama 3.2 1b model",
			HuggingFaceRepo: "meta-llama/Llama-3.2-1B", ArchArgs: arch1(), QuantizationFormat: FormatBF16,
			PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx,
		},
		{
			CoreModelID: "Llama3.2-3B", Family: FamilyLlama32, Description: "Llama 3.2 3b model",
			HuggingFaceRepo: "meta-llama/Llama-3.2-3B", ArchArgs: arch3(), QuantizationFormat: FormatBF16,
			PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx,
		},
		{
			CoreModelID: "Llama3.2-11B-Vision", Family: FamilyLlama32, Description: "Llama 3.2 11b vision model",
			HuggingFaceRepo: "meta-llama/Llama-3.2-11B-Vision", ArchArgs: vision(4096, 32, 32, 1.3),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx,
		},
		{
			CoreModelID: "Llama3.2-90B-Vision", Family: FamilyLlama32, Description: "Llama 3.2 90b vision model",
			HuggingFaceRepo: "meta-llama/Llama-3.2-90B-Vision", ArchArgs: vision(8192, 80, 64, 1.3),
			QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx,
		},
		{
			CoreModelID: "Llama3.2-1B-Instruct", Family: FamilyLlama32, Description: "Llama 3.2 1b instruct model",
			HuggingFaceRepo: "meta-llama/Llama-3.2-1B-Instruct", ArchArgs: arch1(), QuantizationFormat: FormatBF16,
			PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: true,
		},
		{
			CoreModelID: "Llama3.2-3B-Instruct", Family: FamilyLlama32, Description: "Llama 3.2 3b instruct model",
			HuggingFaceRepo: "meta-llama/Llama-3.2-3B-Instruct", ArchArgs: arch3(), QuantizationFormat: FormatBF16,
			PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: true,
		},
	}
	for _, size := range []string{"1B", "3B"} {
		arch := arch1
		if size == "3B" {
			arch = arch3
		}
		for _, q := range []struct{ variant, desc, repo string }{
			{"int4-qlora-eo8", "QLoRA", "QLORA_INT4_EO8"},
			{"int4-spinquant-eo8", "SpinQuant", "SpinQuant_INT4_EO8"},
		} {
			out = append(out, Model{
				CoreModelID: "Llama3.2-" + size + "-Instruct", Variant: q.variant, Family: FamilyLlama32,
				Description:     "Llama 3.2 " + size[:1] + "b INT4 quantized " + q.desc + " instruct model",
				HuggingFaceRepo: "meta-llama/Llama-3.2-" + size + "-Instruct-" + q.repo,
				ArchArgs:        arch(), QuantizationFormat: FormatInt4, PthFileCount: 1,
				RecommendedSampling: recommendedLlama3, MaxSeqLength: 8192, Instruct: true,
			})
		}
	}
	out = append(out,
		Model{
			CoreModelID: "Llama3.2-11B-Vision-Instruct", Family: FamilyLlama32, Description: "Llama 3.2 11b vision instruct model",
			HuggingFaceRepo: "meta-llama/Llama-3.2-11B-Vision-Instruct", ArchArgs: vision(4096, 32, 32, 1.3),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: true,
		},
		Model{
			CoreModelID: "Llama3.2-90B-Vision-Instruct", Family: FamilyLlama32, Description: "Llama 3.2 90b vision instruct model",
			HuggingFaceRepo: "meta-llama/Llama-3.2-90B-Vision-Instruct", ArchArgs: vision(8192, 80, 64, 1.3),
			QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: ctx, Instruct: true,
		},
	)
	return out
}

func llama33Family() []Model {
	return []Model{{
		CoreModelID: "Llama3.3-70B-Instruct", Family: FamilyLlama33, Description: "Llama 3.3 70b instruct",
		HuggingFaceRepo: "meta-llama/Llama-3.3-70B-Instruct", ArchArgs: llama3Arch(8192, 80, 64, 8, 4096, 1.3, true),
		QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: 131072, Instruct: true,
	}}
}

func llama4Family() []Model {
	return []Model{
		{
			CoreModelID: "Llama-4-Scout-17B-16E", Family: FamilyLlama4,
			Description:     "Llama 4 Scout (17b, 16 experts)",
			HuggingFaceRepo: "meta-llama/Llama-4-Scout-17B-16E", ArchArgs: llama4Arch(16, 1, true),
			QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: 262144,
		},
		{
			CoreModelID: "Llama-4-Maverick-17B-128E", Family: FamilyLlama4,
			Description:     "Llama 4 Maverick (17b, 128 experts)",
			HuggingFaceRepo: "meta-llama/Llama-4-Maverick-17B-128E", ArchArgs: llama4Arch(128, 2, false),
			QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: 262144,
		},
		{
			CoreModelID: "Llama-4-Scout-17B-16E-Instruct", Family: FamilyLlama4,
			Description:     "Llama 4 Scout instruct (17b, 16 experts)",
			HuggingFaceRepo: "meta-llama/Llama-4-Scout-17B-16E-Instruct", ArchArgs: llama4Arch(16, 1, true),
			QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: 10485760, Instruct: true,
		},
		{
			CoreModelID: "Llama-4-Maverick-17B-128E-Instruct", Family: FamilyLlama4,
			Description:     "Llama 4 Maverick instruct (17b, 128 experts)",
			HuggingFaceRepo: "meta-llama/Llama-4-Maverick-17B-128E-Instruct", ArchArgs: llama4Arch(128, 2, false),
			QuantizationFormat: FormatBF16, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: 1048576, Instruct: true,
		},
		{
			CoreModelID: "Llama-4-Maverick-17B-128E-Instruct", Variant: "fp8", Family: FamilyLlama4,
			Description:     "Llama 4 Maverick instruct (17b, 128 experts, FP8 quantized)",
			HuggingFaceRepo: "meta-llama/Llama-4-Maverick-17B-128E-Instruct-FP8", ArchArgs: llama4Arch(128, 2, false),
			QuantizationFormat: FormatFP8Mixed, PthFileCount: 8, RecommendedSampling: recommendedLlama3, MaxSeqLength: 1048576, Instruct: true,
		},
	}
}

func safetyFamily() []Model {
	guardArch := func(dim, layers, heads int, multipleOf int, mult float64, vocab int) map[string]any {
		args := llama3Arch(dim, layers, heads, 8, multipleOf, mult, true)
		args["vocab_size"] = vocab
		return args
	}
	return []Model{
		{
			CoreModelID: "Llama-Guard-4-12B", Family: FamilySafety, Description: "Llama Guard v4 12b system safety model",
			HuggingFaceRepo: "meta-llama/Llama-Guard-4-12B", ArchArgs: guardArch(5120, 48, 40, 2048, 1.2, llama4VocabSize),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedGuard, MaxSeqLength: 131072,
		},
		{
			CoreModelID: "Llama-Guard-3-11B-Vision", Family: FamilySafety, Description: "Llama Guard v3 11b vision system safety model",
			HuggingFaceRepo: "meta-llama/Llama-Guard-3-11B-Vision", ArchArgs: guardArch(4096, 32, 32, 1024, 1.3, llama3VocabSize),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedGuard, MaxSeqLength: 131072,
		},
		{
			CoreModelID: "Llama-Guard-3-1B", Variant: "int4", Family: FamilySafety, Description: "Llama Guard v3 1b 'int4' quantized system safety model",
			HuggingFaceRepo: "meta-llama/Llama-Guard-3-1B-INT4", ArchArgs: guardArch(2048, 12, 32, 256, 1.5, llama3VocabSize),
			QuantizationFormat: FormatInt4, PthFileCount: 1, RecommendedSampling: recommendedGuard, MaxSeqLength: 131072,
		},
		{
			CoreModelID: "Llama-Guard-3-1B", Family: FamilySafety, Description: "Llama Guard v3 1b system safety model",
			HuggingFaceRepo: "meta-llama/Llama-Guard-3-1B", ArchArgs: guardArch(2048, 16, 32, 256, 1.5, llama3VocabSize),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedGuard, MaxSeqLength: 131072,
		},
		{
			CoreModelID: "Llama-Guard-3-8B", Family: FamilySafety, Description: "Llama Guard v3 8b system safety model",
			HuggingFaceRepo: "meta-llama/Llama-Guard-3-8B", ArchArgs: guardArch(4096, 32, 32, 1024, 1.3, llama3VocabSize),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedGuard, MaxSeqLength: 131072,
		},
		{
			CoreModelID: "Llama-Guard-3-8B", Variant: "int8", Family: FamilySafety, Description: "Llama Guard v3 8b system safety model (int8 weights)",
			HuggingFaceRepo: "meta-llama/Llama-Guard-3-8B-INT8", ArchArgs: guardArch(4096, 32, 32, 1024, 1.3, llama3VocabSize),
			QuantizationFormat: FormatInt8, PthFileCount: 1, RecommendedSampling: recommendedGuard, MaxSeqLength: 131072,
		},
		{
			CoreModelID: "Llama-Guard-2-8B", Family: FamilySafety, Description: "Llama Guard v2 8b system safety model",
			HuggingFaceRepo: "meta-llama/Meta-Llama-Guard-2-8B", ArchArgs: guardArch(4096, 32, 32, 1024, 1.3, llama3VocabSize),
			QuantizationFormat: FormatBF16, PthFileCount: 1, RecommendedSampling: recommendedGuard, MaxSeqLength: 8192,
		},
	}
}

var catalog = func() []Model {
	var all []Model
	all = append(all, llama4Family()...)
	all = append(all, llama33Family()...)
	all = append(all, llama32Family()...)
	all = append(all, llama31Family()...)
	all = append(all, llama3Family()...)
	all = append(all, llama2Family()...)
	all = append(all, safetyFamily()...)
	return all
}()
