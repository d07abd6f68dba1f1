package services

import (
	"fmt"
	"strings"
)

// PromptInput carries everything the prompt builders may reference. Builders
// are pure: same input, same prompt, no side effects.
type PromptInput struct {
	Name       string
	Notes      string
	ImageCount int
	FileNames  []string
	FileURLs   []string
	ImageURLs  []string
	Excerpts   []FileExcerpt
}

type FileExcerpt struct {
	Filename string
	Text     string
}

const promptRoleHeader = `You are an expert career assistant. Draft a concise, personalized job application/cover letter.

Requirements:
- Professional tone, friendly and confident.
- 3-6 short paragraphs, use clear headings if beneficial.
- Tailor to the candidate and notes provided.
- End with a compelling closing and contact lines.`

func promptCandidateBlock(in PromptInput) string {
	fileList := "none"
	if len(in.FileNames) > 0 {
		fileList = strings.Join(in.FileNames, ", ")
	}
	return fmt.Sprintf(`Candidate name: %s
Additional notes/context from user: "%s"
Number of images uploaded: %d
Other files uploaded (names only): %s`,
		in.Name, strings.TrimSpace(in.Notes), in.ImageCount, fileList)
}

func promptURLBlock(in PromptInput) string {
	if len(in.FileURLs) == 0 && len(in.ImageURLs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nYou can access the user's uploaded files via these URLs:\n")
	if len(in.FileURLs) > 0 {
		b.WriteString("Files:\n- " + strings.Join(in.FileURLs, "\n- ") + "\n")
	}
	if len(in.ImageURLs) > 0 {
		b.WriteString("Images:\n- " + strings.Join(in.ImageURLs, "\n- ") + "\n")
	}
	return b.String()
}

// promptExcerptBlock renders at most maxFiles excerpts, each clipped to
// maxChars, so prompts stay bounded no matter what was uploaded.
func promptExcerptBlock(excerpts []FileExcerpt, maxChars, maxFiles int) string {
	if len(excerpts) == 0 || maxFiles <= 0 || maxChars <= 0 {
		return ""
	}
	var snippets []string
	for _, ex := range excerpts {
		clean := strings.Join(strings.Fields(ex.Text), " ")
		if clean == "" {
			continue
		}
		if clipped := clipRunes(clean, maxChars); clipped != clean {
			clean = clipped + "..."
		}
		snippets = append(snippets, fmt.Sprintf("From %s: %s", ex.Filename, clean))
		if len(snippets) >= maxFiles {
			break
		}
	}
	if len(snippets) == 0 {
		return ""
	}
	return "\nExtracted content from uploads (excerpts):\n- " + strings.Join(snippets, "\n- ") + "\n"
}

// BuildInlinePrompt is the inline-markup mode instruction: the assistant must
// reply with the finished letter as one self-contained HTML document.
func BuildInlinePrompt(in PromptInput, excerptMaxChars, excerptMaxFiles int) string {
	return promptRoleHeader + "\n\n" +
		promptCandidateBlock(in) + "\n" +
		promptExcerptBlock(in.Excerpts, excerptMaxChars, excerptMaxFiles) +
		promptURLBlock(in) + `
IMPORTANT: Assume the CV/resume uploaded contains the candidate's contact info and experiences. Craft a professional letter that integrates typical contact lines and relevant achievements, even if the raw files are not parsed.

Formatting and output requirements:
- Return the complete letter as VALID, SELF-CONTAINED HTML using inline CSS only.
- Include headings, spacing, and typographic choices suitable for printing.
- Do not include external assets, scripts, or stylesheets.
- Do not include placeholder tokens like [Your Name] or any commentary about these instructions; every field must be filled in with real content.
- The HTML must be production-ready to render directly in a web page and to convert to PDF as-is.`
}

// BuildArtifactPrompt is the structured-artifacts mode instruction: the run
// should emit application.docx and application.pdf through the code
// interpreter, styled after the attached templates.
func BuildArtifactPrompt(in PromptInput) string {
	return promptRoleHeader + "\n\n" +
		promptCandidateBlock(in) + `

IMPORTANT: Assume the CV/resume uploaded contains the candidate's contact info and experiences. Craft a professional letter that integrates typical contact lines and relevant achievements, even if the raw files are not parsed.
` + promptURLBlock(in) + `
Formatting and output requirements:
- Use the ATTACHED Word/PDF templates as the visual/structural reference for formatting.
- Use tools to generate TWO files as outputs of this run: a Word document (.docx) and a PDF (.pdf).
- Name them clearly (e.g., application.docx and application.pdf).
- The DOCX and PDF should contain the final polished letter respecting the template's layout and style.
- If you need to transform content to match the template, do so via the code interpreter tool.
- Do not include placeholder tokens like [Your Name] or any commentary about these instructions in the output.

Return the files as outputs of the run (not inline text) when possible.

IMPORTANT FALLBACK:
If you cannot produce the DOCX/PDF files for any reason, return the complete letter as VALID, SELF-CONTAINED HTML that mimics the provided template's look using inline CSS only. Include headings, spacing, and typographic choices similar to the template. Do not include external assets. The HTML should be production-ready to render directly in a web page and to convert to PDF as-is.`
}
