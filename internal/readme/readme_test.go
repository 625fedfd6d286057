package readme

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testReadme = `=== Offgrid Example Plugin ===
Contributors: alice, bob, alice ,  , carol
Donate link: https://example.com/donate
Tags: updates, self-hosted,, updates
Requires at least: 6.0
Tested up to: 6.5
Requires PHP: 7.4
Stable tag: 1.2.0
License: GPLv2 or later
Contributors: mallory
Tested up to: 9.9

A short description of the plugin
spanning two lines.

== Description ==

The long description.

=== Features ===

* one
* two

== Installation ==

1. Upload the plugin.

== Changelog ==

= 1.2.0 =
* Fixed things.

= 1.1.0 =
* Added things.

== Upgrade Notice ==

= 1.2.0 =
Please upgrade.

= 1.1.0 =
Optional.
`

func TestParse(t *testing.T) {
	r := Parse([]byte(testReadme))
	require.Equal(t, "Offgrid Example Plugin", r.Name)
	require.Equal(t, []string{"alice", "bob", "carol"}, r.Contributors)
	require.Equal(t, "https://example.com/donate", r.DonateLink)
	require.Equal(t, []string{"updates", "self-hosted"}, r.Tags)
	require.Equal(t, "6.0", r.Requires)
	require.Equal(t, "6.5", r.Tested)
	require.Equal(t, "7.4", r.RequiresPHP)
	require.Equal(t, "1.2.0", r.StableTag)
	require.Equal(t, "GPLv2 or later", r.License)
	require.Empty(t, r.LicenseURI)
	require.Equal(t, "A short description of the plugin spanning two lines.", r.ShortDescription)

	require.Equal(t, []string{"description", "installation", "changelog"}, r.Sections.Keys())
	desc, _ := r.Sections.Get("description")
	require.Equal(t, "The long description.\n\n=== Features ===\n\n* one\n* two", desc)
	changelog, _ := r.Sections.Get("changelog")
	require.Contains(t, changelog, "= 1.1.0 =")

	require.Equal(t, []string{"1.2.0", "1.1.0"}, r.UpgradeNotice.Keys())
	notice, _ := r.UpgradeNotice.Get("1.2.0")
	require.Equal(t, "Please upgrade.", notice)
}

func TestParseContributorsFirstOccurrenceWins(t *testing.T) {
	r := Parse([]byte("Contributors: alice, bob\nContributors: carol\n"))
	require.Equal(t, []string{"alice", "bob"}, r.Contributors)
	require.Empty(t, r.Name)
	require.Empty(t, r.ShortDescription)
}

func TestParseContributorsExactMatchOnly(t *testing.T) {
	r := Parse([]byte("Contributors: Alice, alice, ALICE, alice\n"))
	require.Equal(t, []string{"Alice", "alice", "ALICE"}, r.Contributors)
}

func TestParseMalformedInput(t *testing.T) {
	testCases := []string{
		"",
		"\x00\x01\x02",
		"== ==\n",
		"=== Name",
		"Tags:\nTested up to:   \n",
		"== Description ==",
	}
	for _, input := range testCases {
		r := Parse([]byte(input))
		require.NotNil(t, r)
		require.Empty(t, r.Tags)
		require.Empty(t, r.Tested)
		require.Nil(t, r.UpgradeNotice)
	}

	r := Parse([]byte("== Description =="))
	require.Equal(t, []string{"description"}, r.Sections.Keys())
	body, _ := r.Sections.Get("description")
	require.Empty(t, body)
}

func TestParseBlankSectionHeaderStaysInBody(t *testing.T) {
	r := Parse([]byte("== Description ==\nfirst\n== ==\nsecond\n== Changelog ==\n= =\n* fix\n"))
	require.Equal(t, []string{"description", "changelog"}, r.Sections.Keys())
	desc, _ := r.Sections.Get("description")
	require.Contains(t, desc, "first")
	require.Contains(t, desc, "second")
	require.Contains(t, desc, "== ==")
}

func TestParseSectionKeys(t *testing.T) {
	r := Parse([]byte("== Frequently Asked Questions ==\nQ?\n== Screenshots ==\n1. one\n"))
	require.Equal(t, []string{"frequently_asked_questions", "screenshots"}, r.Sections.Keys())
}
