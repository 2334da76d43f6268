// Package terms accumulates recurring translation context across jobs:
// proper names, cultural references, and phrases that should render
// consistently. Candidates extracted from validated output are collapsed
// with simhash fingerprints so spelling variants share one entry, and
// confidence rises only when distinct sources corroborate a term.
//
// An operator-maintained TOML glossary merges over the learned set with
// manual entries winning conflicts.
package terms
