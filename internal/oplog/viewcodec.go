package oplog

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/refs"
)

// encodeView renders a View to its canonical, content-addressed byte form.
// The line-oriented shape mirrors object.Commit's encode: one kind of
// section per view component, sorted within each section for determinism.
func encodeView(v *refs.View) []byte {
	var buf bytes.Buffer
	for _, id := range v.HeadIDs() {
		buf.WriteString("head ")
		buf.WriteString(id.String())
		buf.WriteByte('\n')
	}
	publicHeads := make([]objhash.ID, 0, len(v.PublicHeads))
	for id := range v.PublicHeads {
		publicHeads = append(publicHeads, id)
	}
	objhash.SortIDs(publicHeads)
	for _, id := range publicHeads {
		buf.WriteString("public-head ")
		buf.WriteString(id.String())
		buf.WriteByte('\n')
	}

	workspaceNames := sortedKeys(v.Workspaces)
	for _, name := range workspaceNames {
		buf.WriteString("workspace ")
		buf.WriteString(name)
		buf.WriteByte(' ')
		buf.WriteString(v.Workspaces[name].String())
		buf.WriteByte('\n')
	}

	bookmarkNames := sortedBookmarkKeys(v.LocalBookmarks)
	for _, name := range bookmarkNames {
		bm := v.LocalBookmarks[name]
		writeRefTarget(&buf, "bookmark-local", name, bm.Local)
		remoteNames := sortedRemoteKeys(bm.Remotes)
		for _, rn := range remoteNames {
			rt := bm.Remotes[rn]
			tracked := "0"
			if rt.Tracked {
				tracked = "1"
			}
			buf.WriteString("bookmark-remote ")
			buf.WriteString(name)
			buf.WriteByte(' ')
			buf.WriteString(rn)
			buf.WriteByte(' ')
			buf.WriteString(tracked)
			buf.WriteByte(' ')
			writeTargetInline(&buf, rt.Target)
			buf.WriteByte('\n')
		}
	}

	tagNames := sortedTargetKeys(v.Tags)
	for _, name := range tagNames {
		writeRefTarget(&buf, "tag", name, v.Tags[name])
	}
	gitRefNames := sortedTargetKeys(v.GitRefs)
	for _, name := range gitRefNames {
		writeRefTarget(&buf, "git-ref", name, v.GitRefs[name])
	}
	if v.GitHead.Present() || len(v.GitHead.Removes) > 0 {
		writeRefTarget(&buf, "git-head", "HEAD", v.GitHead)
	}
	return buf.Bytes()
}

func writeRefTarget(buf *bytes.Buffer, kind, name string, t refs.RefTarget) {
	buf.WriteString(kind)
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteByte(' ')
	writeTargetInline(buf, t)
	buf.WriteByte('\n')
}

func writeTargetInline(buf *bytes.Buffer, t refs.RefTarget) {
	buf.WriteString(strconv.Itoa(len(t.Adds)))
	for _, id := range t.Adds {
		buf.WriteByte(' ')
		buf.WriteString(id.String())
	}
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(len(t.Removes)))
	for _, id := range t.Removes {
		buf.WriteByte(' ')
		buf.WriteString(id.String())
	}
}

func sortedKeys(m map[string]objhash.ID) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedTargetKeys(m map[string]refs.RefTarget) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedBookmarkKeys(m map[string]refs.Bookmark) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedRemoteKeys(m map[string]refs.RemoteTarget) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func decodeView(payload []byte) (*refs.View, error) {
	v := refs.NewView()
	lines := strings.Split(string(payload), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "head":
			id, err := objhash.FromHex(fields[1])
			if err != nil {
				return nil, err
			}
			v.Heads[id] = struct{}{}
		case "public-head":
			id, err := objhash.FromHex(fields[1])
			if err != nil {
				return nil, err
			}
			v.PublicHeads[id] = struct{}{}
		case "workspace":
			id, err := objhash.FromHex(fields[2])
			if err != nil {
				return nil, err
			}
			v.Workspaces[fields[1]] = id
		case "bookmark-local":
			target, err := parseTargetInline(fields[2:])
			if err != nil {
				return nil, err
			}
			v.SetLocalBookmark(fields[1], target)
		case "bookmark-remote":
			tracked := fields[3] == "1"
			target, err := parseTargetInline(fields[4:])
			if err != nil {
				return nil, err
			}
			v.SetRemoteBookmark(fields[1], fields[2], target, tracked)
		case "tag":
			target, err := parseTargetInline(fields[2:])
			if err != nil {
				return nil, err
			}
			v.Tags[fields[1]] = target
		case "git-ref":
			target, err := parseTargetInline(fields[2:])
			if err != nil {
				return nil, err
			}
			v.GitRefs[fields[1]] = target
		case "git-head":
			target, err := parseTargetInline(fields[2:])
			if err != nil {
				return nil, err
			}
			v.GitHead = target
		}
	}
	return v, nil
}

func parseTargetInline(fields []string) (refs.RefTarget, error) {
	if len(fields) == 0 {
		return refs.Absent(), nil
	}
	nAdds, err := strconv.Atoi(fields[0])
	if err != nil {
		return refs.RefTarget{}, err
	}
	pos := 1
	var adds []objhash.ID
	for i := 0; i < nAdds; i++ {
		id, err := objhash.FromHex(fields[pos])
		if err != nil {
			return refs.RefTarget{}, err
		}
		adds = append(adds, id)
		pos++
	}
	nRemoves, err := strconv.Atoi(fields[pos])
	if err != nil {
		return refs.RefTarget{}, err
	}
	pos++
	var removes []objhash.ID
	for i := 0; i < nRemoves; i++ {
		id, err := objhash.FromHex(fields[pos])
		if err != nil {
			return refs.RefTarget{}, err
		}
		removes = append(removes, id)
		pos++
	}
	return refs.RefTarget{Adds: adds, Removes: removes}, nil
}
