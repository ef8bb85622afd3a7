package eq

// Category groups built-in presets in the picker.
type Category string

const (
	CategoryUtility   Category = "utility"
	CategorySpeech    Category = "speech"
	CategoryListening Category = "listening"
	CategoryMusic     Category = "music"
	CategoryMedia     Category = "media"
	CategoryHeadphone Category = "headphone"
)

// Preset is a built-in EQ curve.
type Preset struct {
	Name     string
	Category Category
	Bands    Bands
}

// BuiltinPresets is the fixed catalog: 20 general curves plus the 3
// headphone profiles. Band order follows BandFrequencies
// (31 Hz … 16 kHz).
var BuiltinPresets = []Preset{
	// Utility.
	{"Flat", CategoryUtility, Bands{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	{"Bass Cut", CategoryUtility, Bands{-12, -9, -6, -3, 0, 0, 0, 0, 0, 0}},
	{"Treble Cut", CategoryUtility, Bands{0, 0, 0, 0, 0, 0, -3, -6, -9, -12}},
	{"Loudness", CategoryUtility, Bands{6, 5, 3, 0, -1, -1, 0, 2, 4, 5}},
	{"Night Mode", CategoryUtility, Bands{-8, -6, -3, 0, 1, 2, 2, 1, -2, -4}},

	// Speech.
	{"Speech Clarity", CategorySpeech, Bands{-6, -5, -3, 0, 1, 3, 4, 4, 2, 0}},
	{"Podcast", CategorySpeech, Bands{-4, -3, -1, 1, 2, 3, 3, 2, 0, -1}},
	{"Voice Boost", CategorySpeech, Bands{-3, -2, 0, 2, 4, 5, 4, 3, 1, 0}},

	// Listening.
	{"Warm", CategoryListening, Bands{3, 3, 2, 1, 0, 0, -1, -2, -2, -3}},
	{"Bright", CategoryListening, Bands{-2, -2, -1, 0, 0, 1, 2, 3, 4, 4}},
	{"Smile", CategoryListening, Bands{5, 4, 2, 0, -2, -2, 0, 2, 4, 5}},
	{"Relaxed", CategoryListening, Bands{1, 1, 0, 0, -1, -2, -3, -3, -4, -5}},

	// Music.
	{"Rock", CategoryMusic, Bands{5, 4, 2, 0, -1, -1, 1, 3, 4, 4}},
	{"Pop", CategoryMusic, Bands{2, 3, 3, 1, 0, -1, 0, 2, 3, 3}},
	{"Jazz", CategoryMusic, Bands{3, 2, 1, 1, -1, -1, 0, 1, 2, 3}},
	{"Classical", CategoryMusic, Bands{2, 1, 0, 0, 0, 0, -1, 1, 2, 3}},
	{"Electronic", CategoryMusic, Bands{6, 5, 2, 0, -2, 0, 1, 2, 4, 5}},
	{"Acoustic", CategoryMusic, Bands{3, 3, 2, 1, 1, 1, 2, 3, 2, 1}},

	// Media.
	{"Movie", CategoryMedia, Bands{4, 4, 2, 0, 0, 2, 3, 2, 1, 2}},
	{"Game", CategoryMedia, Bands{4, 3, 1, 0, 0, 1, 3, 4, 3, 2}},

	// Headphone A/B profiles. Bass steps down and presence steps up
	// across the trio, so A/B-ing them sweeps one axis at a time.
	{"Clarity", CategoryHeadphone, Bands{3, 3, 1, 0, 0, 1, 1, 1, 2, 2}},
	{"Reference", CategoryHeadphone, Bands{1, 1, 0, 0, 0, 1, 2, 2, 2, 2}},
	{"Vocal Focus", CategoryHeadphone, Bands{-2, -1, 0, 0, 1, 2, 4, 4, 3, 2}},
}

// HeadphoneProfileNames lists the A/B trio in sweep order.
var HeadphoneProfileNames = []string{"Clarity", "Reference", "Vocal Focus"}

// PresetByName returns the built-in preset with the given name.
func PresetByName(name string) (Preset, bool) {
	for _, p := range BuiltinPresets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}
