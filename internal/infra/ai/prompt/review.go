// Package prompt builds the token-budgeted review prompt sent to the model.
package prompt

// reviewTemplate demands strict JSON so the response parser usually gets a
// clean object; the fallback tiers exist for when the model misbehaves or
// hits its completion limit anyway.
const reviewTemplate = `You are a senior software engineer reviewing a pull request.
Below is a diff of code changes. Your job is to:
1. Write a 3-5 sentence plain-English summary of what this code actually does (what behavior it introduces or changes).
2. List 2-4 specific behavioral risks or edge cases that could fail in production that a reviewer might miss at a glance.
Be concrete. Reference actual variable names, functions, or conditions from the code. Do not summarize line by line.

Return ONLY valid JSON in this exact format:
{
  "summary": "...",
  "behavioral_flags": [
    {"flag": "...", "severity": "high|medium|low", "location": "filename:line"}
  ]
}

Code diff:
{diff_content}`

const diffPlaceholder = "{diff_content}"
