// SPDX-License-Identifier: MIT

// Package policy carries the built-in keyword policy catalogs and the
// prompt fragments assembled from them.
package policy

// Preset is one admin-togglable policy with its prompt addon and the
// keyword needles used for deterministic matching before any LLM call.
type Preset struct {
	Key         string
	Label       string
	Description string
	PromptAddon string
	Keywords    []string
	Default     bool
}

// DefaultSafePrompt is the blocklist-mode system prompt used when no custom
// prompt is configured.
const DefaultSafePrompt = "You are Sentinel, a very strict child safety and anti-brainrot YouTube guardian for a 6-year-old child. " +
	"Classify videos conservatively and prefer BLOCK on uncertainty. Always block highly stimulating, addictive, low-value spam, " +
	"shouting, manipulative engagement loops, and age-inappropriate themes. " +
	"Treat 'nursery-rhyme factory' videos (algorithmic toddler-song loops with bright overstimulating visuals, repetitive hooks, " +
	"or copycat channels) as unsafe by default unless there is clear educational value and calm pacing. " +
	"Treat exploitative animal roleplay/clickbait videos (for example monkey-baby prank/toilet/pool roleplay loops) as unsafe for children. " +
	"Consider child safety, language, visuals, and educational value."

// DefaultWhitelistPrompt is the whitelist-mode system prompt.
const DefaultWhitelistPrompt = "You are Sentinel in WHITELIST mode for a 6-year-old child. " +
	"Only allow content that clearly matches the active allow-profile categories. " +
	"If the video does not clearly fit those categories, return BLOCK. " +
	"Prefer BLOCK on uncertainty."

// OutputContractSuffix pins the model to the strict JSON verdict schema.
const OutputContractSuffix = "\n\nReturn ONLY valid JSON with this exact schema and keys: " +
	`{"verdict":"ALLOW"|"BLOCK","reason":"string","confidence":0-100}. ` +
	"No markdown, no extra keys, no extra text."

// StrictClickbaitKeywords always force BLOCK on an ALLOW verdict, regardless
// of confidence.
var StrictClickbaitKeywords = []string{
	"monkey baby",
	"baby monkey",
	"bon bon",
	"toilet",
	"poop",
	"potty",
	"animal ht",
}

// BlockPresets are evaluated in blocklist mode.
var BlockPresets = []Preset{
	{
		Key:         "block_cocomelon",
		Label:       "Cocomelon",
		Description: "Always block Cocomelon songs/videos/channels.",
		PromptAddon: `ALWAYS BLOCK any content related to "cocomelon", including brand variants, channel names, thumbnails, and nursery-song compilations from this franchise.`,
		Keywords:    []string{"cocomelon", "coco melon", "jj and friends", "cocomelon nederlands", "cocomelon songs for kids"},
		Default:     true,
	},
	{
		Key:         "block_nursery_factory",
		Label:       "Nursery Factory / Clone Kids Songs",
		Description: "Block Cocomelon-like nursery-rhyme factory channels and clone content.",
		PromptAddon: "ALWAYS BLOCK nursery-rhyme factory clone content, including repetitive toddler-song channels optimized for autoplay loops (for example: 'nursery rhymes', 'kids songs', 'for toddlers', and common clone channels).",
		Keywords:    []string{"nursery rhymes", "kids songs", "for toddlers", "baby songs", "baby anna", "zoki nursery", "bebe zoki", "wheels on the bus"},
		Default:     true,
	},
	{
		Key:         "block_kids_clickbait_animals",
		Label:       "Kids Clickbait Animal Roleplay",
		Description: "Block exploitative monkey/animal clickbait roleplay content.",
		PromptAddon: "ALWAYS BLOCK exploitative animal roleplay clickbait aimed at kids (for example monkey-baby toilet/pool prank loops, distress bait, or repetitive shock thumbnails).",
		Keywords:    []string{"monkey baby", "baby monkey", "bon bon", "animal ht", "toilet", "poop", "potty", "ducklings in the swimming pool"},
		Default:     true,
	},
	{
		Key:         "block_skibidi",
		Label:       "Skibidi / Skibidi Toilet",
		Description: "Brainrot-style chaotic meme animations.",
		PromptAddon: `BLOCK if content strongly matches keywords like "skibidi" or "skibidi toilet".`,
		Keywords:    []string{"skibidi", "skibidi toilet"},
	},
	{
		Key:         "block_huggy_wuggy",
		Label:       "Huggy Wuggy / Poppy Playtime",
		Description: "Toy-like horror monster content.",
		PromptAddon: `BLOCK if content matches "huggy wuggy", "poppy playtime", or close variants.`,
		Keywords:    []string{"huggy wuggy", "poppy playtime"},
	},
	{
		Key:         "block_rainbow_friends",
		Label:       "Rainbow Friends",
		Description: "Roblox-like horror with jumpscares.",
		PromptAddon: `BLOCK if content matches "rainbow friends" or similar horror gameplay for young kids.`,
		Keywords:    []string{"rainbow friends"},
	},
	{
		Key:         "block_siren_momo",
		Label:       "Siren Head / Momo",
		Description: "Urban-legend horror characters.",
		PromptAddon: `BLOCK if content matches "siren head", "momo", or related horror urban legends.`,
		Keywords:    []string{"siren head", "momo"},
	},
	{
		Key:         "block_prank",
		Label:       "Prank",
		Description: "Bullying, rude, staged conflict behavior.",
		PromptAddon: "BLOCK prank-focused content, especially humiliation, bullying, or aggressive behavior.",
		Keywords:    []string{"prank"},
	},
	{
		Key:         "block_challenge",
		Label:       "Challenge",
		Description: "24-hour or dangerous challenge formats.",
		PromptAddon: `BLOCK risky challenge content, including "24 hour challenge" and physically dangerous stunts.`,
		Keywords:    []string{"challenge", "24 hour challenge", "24h challenge"},
	},
	{
		Key:         "block_granny",
		Label:       "Granny",
		Description: "Horror game around violent granny character.",
		PromptAddon: `BLOCK content matching the horror game "granny" and related clones.`,
		Keywords:    []string{"granny"},
	},
	{
		Key:         "block_fnaf",
		Label:       "FNAF / Five Nights at Freddy's",
		Description: "Animatronic jumpscare horror.",
		PromptAddon: `BLOCK content matching "fnaf", "five nights at freddy", or animatronic jumpscare themes.`,
		Keywords:    []string{"fnaf", "five nights at freddy", "five nights at freddy's"},
	},
	{
		Key:         "block_unboxing_eggs",
		Label:       "Unboxing / Surprise Egg",
		Description: "Pure consumerist toy-promo loops.",
		PromptAddon: "BLOCK repetitive toy unboxing and surprise egg promotion content aimed at children.",
		Keywords:    []string{"unboxing", "surprise egg", "surprise eggs"},
	},
	{
		Key:         "block_kill_die",
		Label:       "Kill / Killing / Die",
		Description: "Explicit violent title terms.",
		PromptAddon: `BLOCK when titles/context emphasize words like "kill", "killing", or "die".`,
		Keywords:    []string{" kill ", "killing", " die ", "dies", "died"},
	},
	{
		Key:         "block_blood_gore_horror",
		Label:       "Blood / Gore / Horror",
		Description: "Visual violence and gore terms.",
		PromptAddon: "BLOCK if blood, gore, or explicit horror violence is central to the content.",
		Keywords:    []string{"blood", "bloed", "gore", "horror"},
	},
	{
		Key:         "block_guns_weapons",
		Label:       "Guns / Shooting / Weapons",
		Description: "Firearms/weapon-centered content.",
		PromptAddon: "BLOCK if guns, shooting, or weapon-focused violence is a main theme.",
		Keywords:    []string{"gun", "shoot", "weapon", "wapen", "firearm"},
	},
	{
		Key:         "block_elsagate_pregnant",
		Label:       "Pregnant (Elsagate)",
		Description: "Fetish-like Elsagate mashups.",
		PromptAddon: `BLOCK Elsagate-like content involving "pregnant" cartoon or superhero mashups.`,
		Keywords:    []string{"pregnant", "zwanger"},
	},
	{
		Key:         "block_elsagate_injection",
		Label:       "Injection / Doctor (Elsagate)",
		Description: "Needles/operations in disturbing kid animations.",
		PromptAddon: "BLOCK Elsagate-like content involving injections, needles, fake surgery, or forced doctor scenes.",
		Keywords:    []string{"injection", "spuit", "doctor", "needle", "surgery"},
	},
	{
		Key:         "block_suicide",
		Label:       "Suicide / Self-harm",
		Description: "Self-harm and suicide themes.",
		PromptAddon: "BLOCK any self-harm or suicide-related content immediately.",
		Keywords:    []string{"suicide", "zelfmoord", "self harm", "self-harm"},
	},
}

// AllowPresets are evaluated in whitelist mode.
var AllowPresets = []Preset{
	{
		Key:         "allow_90s_cartoons",
		Label:       "90s Cartoons",
		Description: "Classic 1990s cartoons from major kids networks.",
		PromptAddon: "ALLOW classic 1990s cartoons and franchise content aimed at children.",
		Keywords:    []string{"90s cartoon", "1990s cartoon", "rugrats", "hey arnold", "animaniacs"},
		Default:     true,
	},
	{
		Key:         "allow_00s_cartoons",
		Label:       "00s Cartoons",
		Description: "Classic 2000s cartoons from major kids networks.",
		PromptAddon: "ALLOW classic 2000s cartoons and age-appropriate animated series.",
		Keywords:    []string{"2000s cartoon", "00s cartoon", "kim possible", "fairly oddparents", "avatar"},
		Default:     true,
	},
	{
		Key:         "allow_all_cartoons",
		Label:       "All Cartoons",
		Description: "Allow family-safe animation from trusted channels.",
		PromptAddon: "ALLOW family-safe cartoons and animated shorts from trusted channels.",
		Keywords:    []string{"cartoon", "animation", "animated", "wb kids", "cartoon network"},
	},
	{
		Key:         "allow_disney_family",
		Label:       "Disney",
		Description: "Disney and Disney Junior family-safe content.",
		PromptAddon: "ALLOW family-safe Disney, Disney Junior, and Pixar-style kids content.",
		Keywords:    []string{"disney", "disney jr", "pixar", "mickey", "minnie", "spidey and his amazing friends"},
		Default:     true,
	},
	{
		Key:         "allow_educational",
		Label:       "Educational",
		Description: "School-friendly educational content for kids.",
		PromptAddon: "ALLOW educational content for children: literacy, math, science, geography, and life skills.",
		Keywords:    []string{"educational", "learn", "science", "math", "reading", "school", "kids academy"},
		Default:     true,
	},
	{
		Key:         "allow_religion",
		Label:       "Religion",
		Description: "Age-appropriate faith and values content.",
		PromptAddon: "ALLOW calm, age-appropriate faith and values content without fear-based messaging.",
		Keywords:    []string{"bible", "church", "faith", "christian kids", "quran", "torah", "sunday school"},
	},
	{
		Key:         "allow_pbs_kids",
		Label:       "PBS Kids Classics",
		Description: "Trusted PBS-style educational shows.",
		PromptAddon: "ALLOW PBS Kids style educational programming and classic learning shows.",
		Keywords:    []string{"pbs kids", "sesame street", "arthur", "magic school bus", "reading rainbow"},
	},
	{
		Key:         "allow_nickelodeon_90s",
		Label:       "Nickelodeon Classics",
		Description: "Nickelodeon classics popular in the 1990s/2000s.",
		PromptAddon: "ALLOW family-safe Nickelodeon classics suitable for young children.",
		Keywords:    []string{"nickelodeon", "rugrats", "doug", "ren and stimpy", "catdog"},
	},
	{
		Key:         "allow_cartoon_network_classics",
		Label:       "Cartoon Network Classics",
		Description: "Classic Cartoon Network shows and clips.",
		PromptAddon: "ALLOW classic Cartoon Network family-safe cartoon content.",
		Keywords:    []string{"dexter's laboratory", "powerpuff girls", "johnny bravo", "ed edd n eddy"},
	},
	{
		Key:         "allow_disney_afternoon",
		Label:       "Disney Afternoon Classics",
		Description: "DuckTales/TaleSpin-like classic Disney afternoon content.",
		PromptAddon: "ALLOW Disney Afternoon style family-safe classics.",
		Keywords:    []string{"ducktales", "darkwing duck", "talespin", "goof troop"},
	},
	{
		Key:         "allow_animal_documentaries",
		Label:       "Animal Documentaries",
		Description: "Calm, educational animal documentaries.",
		PromptAddon: "ALLOW educational animal documentaries with calm narration and no distress bait.",
		Keywords:    []string{"animal documentary", "wildlife", "national geographic kids", "nat geo kids"},
	},
	{
		Key:         "allow_nature_science",
		Label:       "Nature & Science",
		Description: "Nature, space, and science explainers for kids.",
		PromptAddon: "ALLOW child-friendly nature, space, and science explainers.",
		Keywords:    []string{"space", "planet", "solar system", "nature", "experiment", "science for kids"},
	},
	{
		Key:         "allow_music_rhythm",
		Label:       "Music & Rhythm",
		Description: "Age-appropriate music and rhythm learning.",
		PromptAddon: "ALLOW age-appropriate music, rhythm, and movement learning content.",
		Keywords:    []string{"music for kids", "rhythm", "sing-along", "children's choir"},
	},
	{
		Key:         "allow_arts_crafts",
		Label:       "Arts & Crafts",
		Description: "Drawing, craft, and making videos for children.",
		PromptAddon: "ALLOW arts and crafts tutorials suitable for children.",
		Keywords:    []string{"arts and crafts", "drawing for kids", "origami", "craft tutorial"},
	},
	{
		Key:         "allow_storytelling_books",
		Label:       "Storytelling & Books",
		Description: "Read-aloud and storytelling videos.",
		PromptAddon: "ALLOW calm storytelling, read-aloud, and children's books content.",
		Keywords:    []string{"story time", "read aloud", "storybook", "bedtime story"},
	},
	{
		Key:         "allow_family_game_shows",
		Label:       "Family Game Shows",
		Description: "Family-friendly quiz and game formats.",
		PromptAddon: "ALLOW child-friendly quiz and family game content without humiliation or risky challenges.",
		Keywords:    []string{"family quiz", "kids game show", "trivia for kids", "family challenge"},
	},
}

// DefaultSponsorBlockCategories are the segment categories skipped when the
// admin has not configured an explicit list.
var DefaultSponsorBlockCategories = []string{
	"sponsor",
	"selfpromo",
	"interaction",
	"intro",
	"outro",
	"music_offtopic",
}

// SupportedTimezones is the curated set offered by the settings surface.
var SupportedTimezones = []string{
	"UTC",
	"Europe/Amsterdam",
	"Europe/Brussels",
	"Europe/London",
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
	"Asia/Tokyo",
	"Australia/Sydney",
}
