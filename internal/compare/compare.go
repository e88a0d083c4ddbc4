// Package compare implements the ComparisonEngine: structured diffs
// between an archived study's original and anonymized DICOM files, for
// human review before forwarding.
package compare

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dicomgw/gateway/internal/archive"
	"github.com/dicomgw/gateway/internal/domain"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

const valueTruncateLen = 200

// CrosswalkStore resolves a de-identified substitute identifier, the
// external collaborator the hashUids pairing strategy depends on.
type CrosswalkStore interface {
	Lookup(brokerName, originalID, idType string) (domain.CrosswalkEntry, bool)
}

// StudyComparison is the top-level result of comparing one archived
// study's originals against its anonymized output.
type StudyComparison struct {
	AETitle           string
	StudyUID          string
	PatientID         string
	PatientName       string
	ScanCount         int
	FileCount         int
	ScriptUsed        string
	PhiFieldsModified []string
	Scans             []ScanComparison
}

// ScanComparison groups one series' original files, each paired (or
// not) with its anonymized counterpart.
type ScanComparison struct {
	SeriesUID string
	Files     []FilePairComparison
}

// FilePairComparison is one original file and the anonymized file it
// was paired with, if any.
type FilePairComparison struct {
	OriginalPath   string
	AnonymizedPath string
	PairStrategy   string
	Header         *HeaderComparison
}

// HeaderComparison is the tag-by-tag diff of one original/anonymized
// file pair.
type HeaderComparison struct {
	Tags         []TagDiff
	PhiTagCount  int
	RemovedCount int
	AddedCount   int
	ChangedCount int
}

// TagDiff is one tag's before/after state across the original and
// anonymized files.
type TagDiff struct {
	Hex             string
	Keyword         string
	Category        domain.TagCategory
	OriginalValue   string
	AnonymizedValue string
	Changed         bool
	Removed         bool
	Added           bool
	IsPHI           bool
}

// Engine is the ComparisonEngine component.
type Engine struct {
	archive   *archive.Archive
	crosswalk CrosswalkStore
}

// New returns an Engine reading from arc, using crosswalk (may be nil
// if no route configures hashUids) for the crosswalk pairing strategy.
func New(arc *archive.Archive, crosswalk CrosswalkStore) *Engine {
	return &Engine{archive: arc, crosswalk: crosswalk}
}

// Compare builds the full StudyComparison for (aeTitle, studyUid).
// brokerName identifies the crosswalk broker for the hashUids pairing
// strategy; it is ignored when the archive did not record hashUids.
func (e *Engine) Compare(aeTitle, studyUID, brokerName string) (StudyComparison, error) {
	study, err := e.archive.Read(aeTitle, studyUID)
	if err != nil {
		return StudyComparison{}, fmt.Errorf("compare: %w", err)
	}

	originalFiles, err := archive.ListFiles(study.OriginalsDir)
	if err != nil {
		return StudyComparison{}, fmt.Errorf("compare: list originals: %w", err)
	}
	anonFiles, err := archive.ListFiles(study.AnonymizedDir)
	if err != nil {
		return StudyComparison{}, fmt.Errorf("compare: list anonymized: %w", err)
	}

	originals := make(map[string]map[int64]string, len(originalFiles))
	for _, rel := range originalFiles {
		vals, err := readTags(filepath.Join(study.OriginalsDir, rel))
		if err != nil {
			continue
		}
		originals[rel] = vals
	}
	anonymized := make(map[string]map[int64]string, len(anonFiles))
	for _, rel := range anonFiles {
		vals, err := readTags(filepath.Join(study.AnonymizedDir, rel))
		if err != nil {
			continue
		}
		anonymized[rel] = vals
	}

	hashUids := study.AuditReport != nil && study.AuditReport.HashUids

	sc := StudyComparison{
		AETitle:   aeTitle,
		StudyUID:  studyUID,
		ScanCount: countUniqueSeries(originals),
		FileCount: maxInt(len(originalFiles), len(anonFiles)),
	}
	if study.AuditReport != nil {
		sc.ScriptUsed = study.AuditReport.ScriptUsed
		sc.PhiFieldsModified = study.AuditReport.PhiFieldsModified
	}
	if first := firstByRel(originalFiles, originals); first != nil {
		sc.PatientID = valueOf(first, tag.PatientID)
		sc.PatientName = valueOf(first, tag.PatientName)
	}

	sc.Scans = e.buildScans(originalFiles, originals, anonymized, brokerName, hashUids)
	return sc, nil
}

func (e *Engine) buildScans(originalFiles []string, originals, anonymized map[string]map[int64]string, brokerName string, hashUids bool) []ScanComparison {
	var order []string
	seen := map[string]bool{}
	bySeries := map[string][]string{}
	for _, rel := range originalFiles {
		vals, ok := originals[rel]
		if !ok {
			continue
		}
		seriesUID := valueOf(vals, tag.SeriesInstanceUID)
		if !seen[seriesUID] {
			seen[seriesUID] = true
			order = append(order, seriesUID)
		}
		bySeries[seriesUID] = append(bySeries[seriesUID], rel)
	}

	var scans []ScanComparison
	for _, seriesUID := range order {
		files := bySeries[seriesUID]
		sort.Slice(files, func(i, j int) bool {
			ni := instanceNumberOf(originals[files[i]])
			nj := instanceNumberOf(originals[files[j]])
			return ni < nj
		})

		var pairs []FilePairComparison
		for _, rel := range files {
			origVals := originals[rel]
			anonRel, strategy := e.pair(rel, origVals, anonymized, seriesUID, brokerName, hashUids)

			fp := FilePairComparison{OriginalPath: rel, PairStrategy: strategy}
			if anonRel != "" {
				fp.AnonymizedPath = anonRel
				h := BuildHeaderComparison(origVals, anonymized[anonRel])
				fp.Header = &h
			}
			pairs = append(pairs, fp)
		}
		scans = append(scans, ScanComparison{SeriesUID: seriesUID, Files: pairs})
	}
	return scans
}

// pair applies the four pairing strategies in priority order, returning
// the matched anonymized relative path and a label for which strategy
// won, or "" and "unmatched".
func (e *Engine) pair(originalRel string, origVals map[int64]string, anonymized map[string]map[int64]string, seriesUID, brokerName string, hashUids bool) (string, string) {
	if hashUids && e.crosswalk != nil {
		origSOP := valueOf(origVals, tag.SOPInstanceUID)
		if entry, ok := e.crosswalk.Lookup(brokerName, origSOP, domain.IDTypeSOPUID); ok {
			for rel, vals := range anonymized {
				if valueOf(vals, tag.SOPInstanceUID) == entry.SubstituteID {
					return rel, "crosswalk"
				}
			}
		}
	}

	base := filepath.Base(originalRel)
	for rel := range anonymized {
		if filepath.Base(rel) == base {
			return rel, "basename"
		}
	}

	origSOP := valueOf(origVals, tag.SOPInstanceUID)
	if origSOP != "" {
		for rel, vals := range anonymized {
			if valueOf(vals, tag.SOPInstanceUID) == origSOP {
				return rel, "sop_uid"
			}
		}
	}

	origInstance := instanceNumberOf(origVals)
	for rel, vals := range anonymized {
		if valueOf(vals, tag.SeriesInstanceUID) == seriesUID && instanceNumberOf(vals) == origInstance {
			return rel, "instance_number"
		}
	}

	return "", "unmatched"
}

// BuildHeaderComparison diffs two tag-value maps into a HeaderComparison.
func BuildHeaderComparison(original, anonymized map[int64]string) HeaderComparison {
	tags := map[int64]bool{}
	for t := range original {
		if t == tagPixelData {
			continue
		}
		tags[t] = true
	}
	for t := range anonymized {
		if t == tagPixelData {
			continue
		}
		tags[t] = true
	}

	var hc HeaderComparison
	for t := range tags {
		origV, hasOrig := original[t]
		anonV, hasAnon := anonymized[t]

		d := TagDiff{
			Hex:             domain.FormatTag(t),
			Keyword:         keywordFor(t),
			Category:        domain.CategorizeTag(t),
			OriginalValue:   truncateValue(origV),
			AnonymizedValue: truncateValue(anonV),
			Removed:         hasOrig && !hasAnon,
			Added:           !hasOrig && hasAnon,
			IsPHI:           domain.IsPHITag(t),
		}
		if hasOrig && hasAnon && origV != anonV {
			d.Changed = true
		}

		hc.Tags = append(hc.Tags, d)
		if d.IsPHI {
			hc.PhiTagCount++
		}
		if d.Removed {
			hc.RemovedCount++
		}
		if d.Added {
			hc.AddedCount++
		}
		if d.Changed {
			hc.ChangedCount++
		}
	}

	sort.Slice(hc.Tags, func(i, j int) bool { return hc.Tags[i].Hex < hc.Tags[j].Hex })
	return hc
}

// DiffValues renders a readable inline diff of two tag values, used by
// review UIs that want to highlight the exact changed substring rather
// than just before/after.
func DiffValues(a, b string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffPrettyText(diffs)
}

const tagPixelData = 0x7FE00010

func keywordFor(t int64) string {
	for kw, v := range reverseLookup {
		if v == t {
			return kw
		}
	}
	return ""
}

var reverseLookup = buildReverseLookup()

func buildReverseLookup() map[string]int64 {
	// Reuses ParseTag's keyword table indirectly: every keyword this
	// package needs a display name for must already resolve through
	// ParseTag, so probe a fixed set of candidates instead of
	// reaching into domain's unexported map.
	candidates := []string{
		"PatientName", "PatientID", "PatientBirthDate", "PatientSex", "PatientAge",
		"PatientWeight", "PatientAddress", "PatientTelephoneNumbers", "OtherPatientIDs",
		"OtherPatientNames", "EthnicGroup", "PatientComments", "Modality",
		"StudyInstanceUID", "SeriesInstanceUID", "SOPInstanceUID", "SOPClassUID",
		"StudyDate", "StudyTime", "AccessionNumber", "StudyDescription", "SeriesDescription",
		"InstitutionName", "InstitutionAddress", "InstitutionalDepartmentName",
		"ReferringPhysicianName", "PerformingPhysicianName", "OperatorsName", "StationName",
		"StudyID", "SeriesNumber", "InstanceNumber", "BodyPartExamined",
		"NumberOfStudyRelatedSeries", "NumberOfStudyRelatedInstances", "ModalitiesInStudy",
		"RequestingPhysician", "ScheduledPerformingPhysicianName", "NameOfPhysiciansReadingStudy",
		"MedicalRecordLocator", "ContentCreatorName", "VerifyingObserverName", "PersonName",
	}
	out := make(map[string]int64, len(candidates))
	for _, kw := range candidates {
		if t := domain.ParseTag(kw); t != domain.NoTag {
			out[kw] = t
		}
	}
	return out
}

// truncateValue applies the value-rendering contract: strings that are
// not valid UTF-8 go through toPrintableUTF8, then the result is
// truncated at 200 characters. Multi-value strings arrive already joined
// by readTags.
func truncateValue(v string) string {
	if !utf8.ValidString(v) {
		v = toPrintableUTF8(v)
	}
	if utf8.RuneCountInString(v) > valueTruncateLen {
		return string([]rune(v)[:valueTruncateLen])
	}
	return v
}

// toPrintableUTF8 attempts a UTF-16/UTF-32 decode fallback for binary
// values that are not already valid UTF-8, else reports the byte count.
func toPrintableUTF8(raw string) string {
	b := []byte(raw)
	if decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().String(raw); err == nil && utf8.ValidString(decoded) {
		return decoded
	}
	if decoded, err := utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM).NewDecoder().String(raw); err == nil && utf8.ValidString(decoded) {
		return decoded
	}
	return fmt.Sprintf("[binary: %d bytes]", len(b))
}

func valueOf(vals map[int64]string, t tag.Tag) string {
	key := int64(t.Group)<<16 | int64(t.Element)
	return vals[key]
}

func instanceNumberOf(vals map[int64]string) int {
	s := valueOf(vals, tag.InstanceNumber)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func countUniqueSeries(originals map[string]map[int64]string) int {
	seen := map[string]bool{}
	for _, vals := range originals {
		seen[valueOf(vals, tag.SeriesInstanceUID)] = true
	}
	return len(seen)
}

func firstByRel(rels []string, byRel map[string]map[int64]string) map[int64]string {
	for _, rel := range rels {
		if vals, ok := byRel[rel]; ok {
			return vals
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// readTags parses a DICOM file, stopping before pixel data, into a
// flat tag -> value map. Multi-valued strings are joined with ` \ `;
// byte values render as "[binary: N bytes]".
func readTags(path string) (map[int64]string, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("compare: parse %s: %w", path, err)
	}

	out := map[int64]string{}
	for _, elem := range ds.Elements {
		if elem == nil || elem.Value == nil {
			continue
		}
		t := int64(elem.Tag.Group)<<16 | int64(elem.Tag.Element)
		switch v := elem.Value.GetValue().(type) {
		case []string:
			out[t] = strings.Join(v, ` \ `)
		case string:
			out[t] = v
		case []byte:
			out[t] = fmt.Sprintf("[binary: %d bytes]", len(v))
		default:
			if v != nil {
				out[t] = fmt.Sprint(v)
			}
		}
	}
	return out, nil
}
