// Package testutil provides test utilities including sample data generation.
package testutil

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/surajit20072003/heygemd/internal/models"
)

// Standard fictional speaker personas for test avatars.
// NEVER use real people's names or likenesses.
var (
	Speakers = []string{
		"Nova",
		"Atlas",
		"Vega",
		"Orion",
		"Luna",
		"Juno",
		"Lyra",
		"Rigel",
		"Caelum",
		"Mira",
	}

	SpeakerRoles = []string{
		"Presenter",
		"Narrator",
		"Host",
		"Greeter",
		"Guide",
		"Announcer",
		"Trainer",
		"Concierge",
	}

	// ScriptTemplates provides fictional synthesis scripts.
	// NEVER use real brand names, slogans, or trademarked content.
	ScriptTemplates = []ScriptTemplate{
		// Greetings
		{Title: "Welcome Greeting", Text: "Hello, and welcome aboard. We are delighted to have you with us. Let me walk you through everything you need to get started.", Category: "greeting"},
		{Title: "Returning Visitor", Text: "Welcome back! It is great to see you again. Here is what has changed since your last visit.", Category: "greeting"},
		{Title: "Event Opening", Text: "Good morning, everyone, and thank you for joining today's session. We have a full agenda ahead, so let us dive right in.", Category: "greeting"},

		// Product copy
		{Title: "Feature Announcement", Text: "Today we are introducing a smarter way to manage your daily schedule. The new planner learns from your habits and suggests the best time for every task.", Category: "product"},
		{Title: "Update Summary", Text: "This release focuses on speed and stability. Pages load twice as fast, and syncing now happens in the background.", Category: "product"},
		{Title: "Onboarding Pitch", Text: "Setting up takes less than five minutes. Connect your account and pick a template. Your workspace is ready right away.", Category: "product"},

		// News and notices
		{Title: "Daily Briefing", Text: "Here are today's top updates. The town council approved the new riverside park, and construction begins next month.", Category: "news"},
		{Title: "Weather Update", Text: "Expect sunshine through the morning with clouds building after lunch. Temperatures stay mild all week.", Category: "news"},
		{Title: "Traffic Notice", Text: "Roadworks on the northern bridge continue through Friday. Please allow extra time for your commute.", Category: "news"},

		// Training material
		{Title: "Safety Briefing", Text: "Before we begin, please review the safety guidelines. Keep walkways clear at all times. Report any hazard to your supervisor immediately.", Category: "training"},
		{Title: "Software Walkthrough", Text: "In this lesson we cover the reporting dashboard. You will learn how to filter results and export them for your team.", Category: "training"},
		{Title: "Policy Overview", Text: "Our updated travel policy takes effect on the first of the month. Expense reports are now submitted through the portal.", Category: "training"},

		// Customer support
		{Title: "Password Reset Help", Text: "Resetting your password is quick. Open the sign-in page and choose the forgotten password link. A reset code arrives by email within a minute.", Category: "support"},
		{Title: "Billing Explanation", Text: "Your invoice is generated on the first day of each billing cycle. Charges reflect your plan plus any usage from the previous month.", Category: "support"},
		{Title: "Returns Guide", Text: "Items can be returned within thirty days of delivery. Keep the original packaging and include the order slip.", Category: "support"},

		// Public announcements
		{Title: "Store Announcement", Text: "Attention shoppers: our seasonal sale starts this weekend. Members receive early access on Friday evening.", Category: "announcement"},
		{Title: "Boarding Call", Text: "This is a boarding announcement. Passengers in rows twenty and above may now board at gate twelve.", Category: "announcement"},
		{Title: "Museum Notice", Text: "The east wing closes at five today for a private event. The main galleries remain open until eight.", Category: "announcement"},
	}

	// avatarNotes are fictional capture notes attached to some fixtures.
	avatarNotes = []string{
		"studio recording, neutral backdrop",
		"front-facing, shoulders up",
		"captured under daylight balance",
		"office backdrop, seated",
	}
)

// ScriptTemplate represents a template for generating synthesis scripts.
type ScriptTemplate struct {
	Title    string
	Text     string
	Category string
}

// SampleAvatar represents a generated avatar fixture for testing.
type SampleAvatar struct {
	Name      string
	VideoPath string
	AudioPath string
	Notes     string
}

// ToAvatar converts a SampleAvatar to a models.Avatar.
func (s *SampleAvatar) ToAvatar() *models.Avatar {
	return &models.Avatar{
		Name:      s.Name,
		VideoPath: s.VideoPath,
		AudioPath: s.AudioPath,
		Notes:     s.Notes,
	}
}

// SampleDataGenerator generates realistic but fictional fixture data for testing.
type SampleDataGenerator struct {
	rng *rand.Rand
}

// NewSampleDataGenerator creates a new sample data generator with a random seed.
func NewSampleDataGenerator() *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(rand.Int63())),
	}
}

// NewSampleDataGeneratorWithSeed creates a new generator with a fixed seed for reproducibility.
func NewSampleDataGeneratorWithSeed(seed int64) *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// RandomSpeaker returns a random speaker persona name.
func (g *SampleDataGenerator) RandomSpeaker() string {
	return Speakers[g.rng.Intn(len(Speakers))]
}

// RandomRole returns a random speaker role (Presenter, Narrator, etc).
func (g *SampleDataGenerator) RandomRole() string {
	return SpeakerRoles[g.rng.Intn(len(SpeakerRoles))]
}

// GenerateAvatarName generates a full avatar name with speaker and role.
func (g *SampleDataGenerator) GenerateAvatarName() string {
	return fmt.Sprintf("%s %s", g.RandomSpeaker(), g.RandomRole())
}

// RandomScript returns a random script template.
func (g *SampleDataGenerator) RandomScript() ScriptTemplate {
	return ScriptTemplates[g.rng.Intn(len(ScriptTemplates))]
}

// RandomScriptFromCategory returns a random script template for the given category.
func (g *SampleDataGenerator) RandomScriptFromCategory(category string) ScriptTemplate {
	matching := make([]ScriptTemplate, 0, len(ScriptTemplates))
	for _, t := range ScriptTemplates {
		if t.Category == category {
			matching = append(matching, t)
		}
	}
	if len(matching) == 0 {
		return g.RandomScript()
	}
	return matching[g.rng.Intn(len(matching))]
}

// GenerateScript builds a script of at least minSentences sentences by
// joining random templates. Useful for exercising text chunking.
func (g *SampleDataGenerator) GenerateScript(minSentences int) string {
	var b strings.Builder
	sentences := 0
	for sentences < minSentences {
		t := g.RandomScript()
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(t.Text)

		added := strings.Count(t.Text, ".") + strings.Count(t.Text, "!") + strings.Count(t.Text, "?")
		if added == 0 {
			added = 1
		}
		sentences += added
	}
	return b.String()
}

// AvatarOptions configures avatar fixture generation.
type AvatarOptions struct {
	MediaDir   string        // Directory the media files are written into
	AudioRatio float64       // Ratio of avatars with a voice reference (0.0-1.0)
	AudioLen   time.Duration // Duration of generated voice references
}

// DefaultAvatarOptions returns default avatar generation options.
func DefaultAvatarOptions(mediaDir string) AvatarOptions {
	return AvatarOptions{
		MediaDir:   mediaDir,
		AudioRatio: 0.5,
		AudioLen:   time.Second,
	}
}

// GenerateSampleAvatars generates avatar fixtures with media files on disk.
// Names are unique within the batch.
func (g *SampleDataGenerator) GenerateSampleAvatars(count int, opts AvatarOptions) ([]SampleAvatar, error) {
	avatars := make([]SampleAvatar, count)

	for i := 0; i < count; i++ {
		slug := fmt.Sprintf("avatar%03d", i+1)

		video := filepath.Join(opts.MediaDir, slug+"_face.mp4")
		if err := WriteSampleMP4(video); err != nil {
			return nil, fmt.Errorf("writing sample video: %w", err)
		}

		var audio string
		if g.rng.Float64() < opts.AudioRatio {
			audio = filepath.Join(opts.MediaDir, slug+"_voice.wav")
			if err := WriteSampleWAV(audio, opts.AudioLen); err != nil {
				return nil, fmt.Errorf("writing sample audio: %w", err)
			}
		}

		// Capture notes sometimes (50% chance)
		var notes string
		if g.rng.Float32() > 0.5 {
			notes = avatarNotes[g.rng.Intn(len(avatarNotes))]
		}

		avatars[i] = SampleAvatar{
			Name:      fmt.Sprintf("%s %02d", g.GenerateAvatarName(), i+1),
			VideoPath: video,
			AudioPath: audio,
			Notes:     notes,
		}
	}

	return avatars, nil
}
