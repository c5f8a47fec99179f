package models

// ThumbOptions tunes the thumbnail pipeline.
type ThumbOptions struct {
	Enabled    bool `json:"enabled"`
	Width      int  `json:"width" validate:"gt=0"`
	Height4x3  int  `json:"height_4_3" validate:"gt=0"`
	Height16x9 int  `json:"height_16_9" validate:"gt=0"`
	RenderDPI  int  `json:"render_dpi" validate:"gt=0"`
}

// PDFOptions tunes the PDF conversion step.
type PDFOptions struct {
	Enabled        bool   `json:"enabled"`
	TimeoutSec     int    `json:"timeout_sec" validate:"gt=0"`
	MaxConcurrency int    `json:"max_concurrency" validate:"gte=1"`
	Prefer         string `json:"prefer" validate:"oneof=libreoffice powerpoint auto"`
}

// EmbedOptions tunes both embedding pipelines.
type EmbedOptions struct {
	EnabledText    bool   `json:"enabled_text"`
	EnabledImage   bool   `json:"enabled_image"`
	ModelText      string `json:"model_text"`
	ModelImage     string `json:"model_image"`
	MaxConcurrency int    `json:"max_concurrency" validate:"gte=1"`
	BatchSize      int    `json:"batch_size" validate:"gte=1"`
	ReqPerMin      int    `json:"req_per_min" validate:"gte=1"`
	TokPerMin      int    `json:"tok_per_min" validate:"gte=1"`
	MaxRetries     int    `json:"max_retries" validate:"gte=0"`
}

// JobOptions is the option set accepted by POST /jobs/index. The
// sentence-dedup knobs are accepted and persisted for wire
// compatibility with older clients but are not read by any pipeline.
type JobOptions struct {
	EnableText    bool       `json:"enable_text"`
	EnableThumb   bool       `json:"enable_thumb"`
	EnableTextVec bool       `json:"enable_text_vec"`
	EnableImgVec  bool       `json:"enable_img_vec"`
	EnableBM25    bool       `json:"enable_bm25"`
	FilePaths     []string   `json:"file_paths"`
	FileScans     []FileScan `json:"file_scans,omitempty"`

	Thumb ThumbOptions `json:"thumb"`
	PDF   PDFOptions   `json:"pdf"`
	Embed EmbedOptions `json:"embed"`

	CommitEveryPages int     `json:"commit_every_pages" validate:"gte=1"`
	CommitEverySec   float64 `json:"commit_every_sec" validate:"gt=0"`

	EnableSentenceDF    bool    `json:"enable_sentence_df"`
	SentenceDFThreshold float64 `json:"sentence_df_threshold"`
	SentenceMinLen      int     `json:"sentence_min_len"`
}

// DefaultJobOptions returns the option set used when a request field is
// absent.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		EnableText:    true,
		EnableThumb:   true,
		EnableTextVec: true,
		EnableImgVec:  true,
		EnableBM25:    true,
		Thumb: ThumbOptions{
			Enabled:    true,
			Width:      320,
			Height4x3:  240,
			Height16x9: 180,
			RenderDPI:  144,
		},
		PDF: PDFOptions{
			Enabled:        true,
			TimeoutSec:     180,
			MaxConcurrency: 1,
			Prefer:         "auto",
		},
		Embed: EmbedOptions{
			EnabledText:    true,
			EnabledImage:   true,
			ModelText:      "text-embedding-3-large",
			ModelImage:     "image-embedding-1",
			MaxConcurrency: 2,
			BatchSize:      64,
			ReqPerMin:      120,
			TokPerMin:      200000,
			MaxRetries:     8,
		},
		CommitEveryPages:    50,
		CommitEverySec:      1.0,
		EnableSentenceDF:    true,
		SentenceDFThreshold: 0.30,
		SentenceMinLen:      6,
	}
}
