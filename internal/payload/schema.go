package payload

import "regexp"

// Size and length bounds shared by the schema and the request handlers.
const (
	MinFileBytes = 127
	MaxFileBytes = 200 << 20 // 200 MiB

	MaxNameLength   = 255
	MaxUserIDLength = 128
	MinCIDLength    = 10
	MaxDimension    = 10000
)

type fieldType string

const (
	typeString  fieldType = "string"
	typeNumber  fieldType = "number"
	typeBoolean fieldType = "boolean"
)

// rule is one entry of the schema table. Zero-valued length bounds and nil
// numeric bounds mean "no constraint".
type rule struct {
	field       string
	typ         fieldType
	required    bool
	minLength   int
	maxLength   int
	pattern     *regexp.Regexp
	min         *float64
	max         *float64
	description string
}

var (
	namePattern = regexp.MustCompile(`^[^<>:"/\\|?*\x00-\x1f]+$`)
	cidPattern  = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	urlPattern  = regexp.MustCompile(`^https?://.+`)
)

func bound(v float64) *float64 { return &v }

// schema is the static, process-wide rule table. Order matters: validation
// evaluates fields in exactly this order and error lists preserve it.
var schema = []rule{
	{
		field:       "name",
		typ:         typeString,
		required:    true,
		maxLength:   MaxNameLength,
		pattern:     namePattern,
		description: "a filename without reserved or control characters",
	},
	{
		field:    "size",
		typ:      typeNumber,
		required: true,
		min:      bound(MinFileBytes),
		max:      bound(MaxFileBytes),
	},
	{
		field:       "cid",
		typ:         typeString,
		required:    true,
		minLength:   MinCIDLength,
		pattern:     cidPattern,
		description: "an alphanumeric content identifier",
	},
	{
		field:       "filecoin_url",
		typ:         typeString,
		required:    true,
		pattern:     urlPattern,
		description: "an absolute http or https URL",
	},
	{
		// required-ness of user_id depends on the transport; see Validate.
		field:     "user_id",
		typ:       typeString,
		required:  true,
		minLength: 1,
		maxLength: MaxUserIDLength,
	},
	{
		field:    "is_selfie",
		typ:      typeBoolean,
		required: true,
	},
	{
		field: "height",
		typ:   typeNumber,
		min:   bound(1),
		max:   bound(MaxDimension),
	},
	{
		field: "width",
		typ:   typeNumber,
		min:   bound(1),
		max:   bound(MaxDimension),
	},
}
