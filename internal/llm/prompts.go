package llm

import "fmt"

// CoursePolicySystemPrompt is the operating policy given to the model.
func CoursePolicySystemPrompt(courseName string) string {
	if courseName == "" {
		courseName = "Course"
	}
	return fmt.Sprintf(`
You are a Discord course assistant for "%s".

RULES (strict):
- Do NOT provide final answers or complete solutions to graded/homework/exam-style questions.
- If asked for an answer, refuse politely and provide:
  (1) where in course materials the student should look (lecture #, slide/page if available),
  (2) hints or guiding questions,
  (3) recommend office hours or emailing TA/Professor.
- You may explain concepts at a high level, give partial steps, and help debug a student's attempt.
- If the question is unrelated to provided course materials, say so and ask them to consult staff.
- Keep responses concise and helpful.
`, courseName)
}

// BuildMessages returns the chat history for a single prompt: the course
// policy followed by the user's text.
func BuildMessages(courseName, prompt string) []Message {
	return []Message{
		{Role: RoleSystem, Content: CoursePolicySystemPrompt(courseName)},
		{Role: RoleUser, Content: prompt},
	}
}
