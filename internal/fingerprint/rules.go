package fingerprint

// Tag identifies the server software family inferred from a response.
type Tag string

const (
	TagVanilla               Tag = "vanilla"
	TagPaper                 Tag = "paper"
	TagFabric                Tag = "fabric"
	TagForge                 Tag = "forge"
	TagLegacyForge           Tag = "legacy_forge"
	TagNeoForge              Tag = "neoforge"
	TagModpack               Tag = "bettercompatibilitychecker"
	TagProxy                 Tag = "proxy"
	TagNodeMinecraftProtocol Tag = "node_minecraft_protocol"
	TagEmpty                 Tag = "empty"
	TagUnknown               Tag = "unknown"
)

// Rule is one passive classification heuristic. Rules are evaluated in
// table order and the first match wins.
type Rule struct {
	Name  string
	Tag   Tag
	Match func(*Status) bool
}

// passiveRules is ordered from most to least specific. Extend here when a
// new field-order string shows up often enough to be worth a rule.
var passiveRules = []Rule{
	{
		// NeoForge keeps Forge's forgeData but adds isModded, so it has
		// to be checked first
		Name:  "neoforge",
		Tag:   TagNeoForge,
		Match: func(s *Status) bool { return s.IsModded != nil && *s.IsModded },
	},
	{
		// modern Forge advertises forgeData with fmlNetworkVersion
		Name: "forge-data",
		Tag:  TagForge,
		Match: func(s *Status) bool {
			return s.HasForgeData && s.ForgeFMLNetworkVersion != nil
		},
	},
	{
		Name:  "forge-data-bare",
		Tag:   TagForge,
		Match: func(s *Status) bool { return s.HasForgeData },
	},
	{
		// 1.12-era Forge used a top-level modinfo object
		Name:  "modinfo",
		Tag:   TagLegacyForge,
		Match: func(s *Status) bool { return s.ModinfoType != nil },
	},
	{
		Name: "modpack-data",
		Tag:  TagModpack,
		Match: func(s *Status) bool {
			return s.ModpackProjectID != nil || s.ModpackName != nil
		},
	},
	{
		// an empty sample with players online is how BungeeCord and
		// Velocity respond by default
		Name: "proxy-empty-sample",
		Tag:  TagProxy,
		Match: func(s *Status) bool {
			return s.Passive.EmptySample &&
				s.OnlinePlayers != nil && *s.OnlinePlayers > 0
		},
	},
	{
		// canonical serializer order with no markers. Paper and Spigot are
		// indistinguishable from vanilla here; the active probe separates
		// them.
		Name:  "vanilla-order",
		Tag:   TagVanilla,
		Match: func(s *Status) bool { return !s.Passive.IncorrectOrder },
	},
}

// Classify runs the passive rule table over a parsed status response.
func Classify(s *Status) Tag {
	for _, r := range passiveRules {
		if r.Match(s) {
			return r.Tag
		}
	}
	return TagUnknown
}
