package detectors

// PersonNamePatterns are ordered title-anchored name patterns. Each pattern
// must capture the name itself in group 1; the honorific stays outside the
// reported span so it remains visible as role context.
var PersonNamePatterns = []NamePattern{
	{
		Name:    "doctor_title",
		Pattern: `\b(?:Dr|Doctor|Prof)\.?\s+([A-Z][\p{L}'-]+(?:\s+[A-Z][\p{L}'-]+){0,2})`,
	},
	{
		Name:    "care_role",
		Pattern: `\b(?:[Nn]urse|[Pp]atient|[Mm]other|[Ff]ather)\s+([A-Z][\p{L}'-]+(?:\s+[A-Z][\p{L}'-]+){0,2})`,
	},
	{
		Name:    "honorific",
		Pattern: `\b(?:Mr|Mrs|Ms|Miss|Mx)\.?\s+([A-Z][\p{L}'-]+(?:\s+[A-Z][\p{L}'-]+){0,2})`,
	},
}
