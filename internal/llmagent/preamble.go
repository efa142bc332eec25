package llmagent

// sharedPreamble defines STRUCTURE vs BUSINESS DATA for every agent call.
// Its wording is part of the contract: change it and LM behavior across
// all four agents drifts, so every prompt builder in this package
// interpolates it verbatim rather than paraphrasing.
const sharedPreamble = `You are analyzing one line of unstructured log output at a time.

Every log line is made of two kinds of content:
- STRUCTURE: the constant skeleton that defines what kind of event this line
  represents. Two lines with the same STRUCTURE describe the same event type,
  just with different data.
- BUSINESS DATA: the dynamic, instance-specific spans inside that skeleton —
  timestamps, identifiers, request paths, counts, durations, hostnames, and
  similar values that differ from one occurrence of the event to the next.

Your job is always to separate STRUCTURE from BUSINESS DATA as precisely as
possible. Never classify something as BUSINESS DATA merely because it looks
like a number or a word you don't recognize — only variable, instance-specific
spans belong there. Respond with a single JSON object and nothing else: no
markdown fences, no prose before or after it.`

// jsonOnlyReminder is appended on the one automatic retry a call gets when
// its first response fails schema validation (spec §4.7).
const jsonOnlyReminder = "\n\nYour previous response did not parse as a single valid JSON object matching the required schema. Respond again with JSON only."
