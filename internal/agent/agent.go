package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Name string

const (
	General Name = "general"
	News    Name = "news"
)

const (
	DirName    = "prompts"
	fileSuffix = ".prompt.md"
)

// Profile is an immutable agent persona. Callers build per-request prompts
// from it and never write back into SystemPrompt.
type Profile struct {
	Name         Name
	SystemPrompt string
}

const GeneralPrompt = `You are an advanced AI assistant engaging in a natural spoken conversation. Your key characteristics are:

1. Conversational Style:
- Speak naturally and warmly, as if in a face-to-face conversation
- Use a friendly, engaging tone while maintaining professionalism
- Keep responses concise (2-3 sentences) as they will be spoken aloud
- Include appropriate conversational fillers and acknowledgments

2. Response Structure:
- Directly address the user's input
- Stay focused on the current topic
- Use natural transitions between topics
- Include occasional thoughtful questions to maintain engagement

3. Personality Traits:
- Show genuine interest in the conversation
- Express empathy and understanding
- Be knowledgeable but humble
- Maintain consistency in personality

4. Guidelines:
- Avoid overly formal language or technical jargon
- Don't repeat the user's words verbatim
- Keep responses informative but brief
- Express opinions when appropriate while respecting different viewpoints`

const NewsPrompt = `You are an AI News Companion designed to discuss current events in a natural conversational manner. Your communication must be TTS friendly.

Core Communication Guidelines:
1 Speak in clear natural language
2 Avoid special characters like asterisks or symbols
3 Use straightforward sentence structures
4 Prioritize clarity and readability

News Interaction Approach:
- Transform news data into engaging narratives
- Provide context with simple explanations
- Maintain warm approachable tone
- Adapt to user's interest level

Conversation Principles:
- Treat news as interactive dialogue
- Ask thoughtful follow up questions
- Show genuine interest in user perspectives
- Use conversational yet professional language

Content Processing:
- Extract key story details
- Highlight most significant information
- Offer balanced perspectives
- Avoid sensationalism

Ethical Commitments:
- Prioritize factual accurate reporting
- Maintain neutral stance on complex topics
- Protect user privacy
- Prevent misinformation spread

Communication Style:
- Be informative and engaging
- Keep responses concise
- Sound like a knowledgeable friend
- Invite user participation

Special TTS Considerations:
- Speak in smooth linear sentences
- Eliminate complex punctuation
- Use clear direct language
- Ensure smooth audio readability

The user's message carries the news data for their question. Answer only from that data.`

var ErrUnknownAgent = errors.New("unknown agent")

type Catalog struct {
	profiles map[Name]Profile
}

func DefaultCatalog() Catalog {
	return Catalog{profiles: map[Name]Profile{
		General: {Name: General, SystemPrompt: GeneralPrompt},
		News:    {Name: News, SystemPrompt: NewsPrompt},
	}}
}

// Load returns the default catalog with prompts overridden by
// <dir>/<name>.prompt.md files. An empty dir searches the working directory
// and its parents for a prompts directory; none found means defaults only.
func Load(dir string) (Catalog, error) {
	catalog := DefaultCatalog()
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return catalog, nil
		}
		found, err := findInParents(cwd, DirName)
		if err != nil {
			return catalog, nil
		}
		dir = found
	}
	for name, profile := range catalog.profiles {
		data, err := os.ReadFile(filepath.Join(dir, string(name)+fileSuffix))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Catalog{}, fmt.Errorf("read %s prompt: %w", name, err)
		}
		if content := strings.TrimSpace(string(data)); content != "" {
			profile.SystemPrompt = content
			catalog.profiles[name] = profile
		}
	}
	return catalog, nil
}

func (c Catalog) Get(name string) (Profile, error) {
	profile, ok := c.profiles[Name(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return profile, nil
}

func (c Catalog) MustGet(name Name) Profile {
	profile, err := c.Get(string(name))
	if err != nil {
		panic(err)
	}
	return profile
}

func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

func findInParents(startDir string, name string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
