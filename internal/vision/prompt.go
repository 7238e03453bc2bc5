package vision

import (
	"fmt"
	"strings"
)

// Grade levels the explanation prompt is tuned for.
const (
	GradeJuniorHigh = "junior-high"
	GradeHighSchool = "high-school"
)

// NormalizeGrade maps unknown or empty grades to junior high.
func NormalizeGrade(grade string) string {
	switch strings.ToLower(strings.TrimSpace(grade)) {
	case GradeHighSchool:
		return GradeHighSchool
	}
	return GradeJuniorHigh
}

const highSchoolPrompt = `You are an experienced high school teacher. Analyze the problem shown in this image and give guidance suited to a high school student.

Rules:
- Do not carry out the calculations; explain only the approach and the steps to solve it.
- Stay within the high school curriculum. Technical terms are fine where appropriate.

Format:
- Show only the reasoning and the steps.
- Put important formulas on their own line as $$...$$.
- Number the formulas.

First read the image carefully and restate the problem accurately, then start the guidance.`

const juniorHighPrompt = `You are an experienced junior high school teacher. Analyze the problem shown in this image and give guidance suited to a junior high school student.

Rules:
- Do not carry out the calculations; explain only the approach and the steps to solve it.
- Stay within the junior high curriculum. Avoid technical terms and use plain words.
- Be as detailed and easy to follow as you can.

Format:
- Show only the reasoning and the steps.
- Put important formulas on their own line as $$...$$.
- Number the formulas.

First read the image carefully and restate the problem accurately, then start the guidance.`

// ExplainPrompt returns the instruction sent with the uploaded image.
func ExplainPrompt(grade string) string {
	if NormalizeGrade(grade) == GradeHighSchool {
		return highSchoolPrompt
	}
	return juniorHighPrompt
}

// FollowUpPrompt embeds the earlier explanation and the new question.
func FollowUpPrompt(originalExplanation, question string) string {
	return fmt.Sprintf(`Earlier the user asked about the attached image and received the explanation below.

[Earlier explanation]
---
%s
---

With that explanation and the original image in mind, the user has a follow-up question.
Answer it clearly and carefully.

[Follow-up question]
"%s"

Instructions:
- Take both the original image and the earlier explanation into account.
- Write important formulas as $$...$$.`, originalExplanation, question)
}
