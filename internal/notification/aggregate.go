package notification

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// groupThreshold は要約通知への畳み込みを開始するバケットの件数。
// 3件以下のまとまりは個別に表示した方が読みやすい。
const groupThreshold = 4

// summaryItemLimit は要約文に並べる本文の最大数。
const summaryItemLimit = 3

// summaryItemMaxLen は要約文に並べる本文1件の最大文字数。
// 超過分は切り詰めて "..." を付与する。
const summaryItemMaxLen = 60

// Record は集約エンジンへの入力となる1件の生通知。
// 呼び出し元が非表示レコードの除外と所有者スコープの絞り込みを済ませた上で渡す。
// 所有者フィールド（UserID・AdminID・OrganizationID）は必ずいずれか1つが設定されている。
type Record struct {
	// ID は通知の一意識別子。
	ID string
	// Type は通知の種別キー。
	Type string
	// Message は通知の本文。
	Message string
	// URL は通知から遷移する先のディープリンク。
	URL string
	// UserID は通知先の部員ID。未設定の場合は空文字列。
	UserID string
	// AdminID は通知先の管理者ID。未設定の場合は空文字列。
	AdminID string
	// OrganizationID はブロードキャスト先の団体ID。未設定の場合は空文字列。
	OrganizationID string
	// BulletinPostID は対象の掲示板投稿ID。未設定の場合は空文字列。
	BulletinPostID string
	// EventID は対象のイベントID。未設定の場合は空文字列。
	EventID string
	// PaymentID は対象の会費ID。未設定の場合は空文字列。
	PaymentID string
	// PaymentItemID は対象の会費明細ID。未設定の場合は空文字列。
	PaymentItemID string
	// VerifiedUserID は本人確認が完了した部員のID。未設定の場合は空文字列。
	VerifiedUserID string
	// CreatedAt は作成日時の生テキスト。解析できないレコードはスキップされる。
	CreatedAt string
	// IsRead は既読状態。
	IsRead bool
}

// TypeConfig は種別ごとの表示ポリシー。種別設定レジストリから読み込まれる。
type TypeConfig struct {
	// DisplayNamePlural は複数形の表示名。空の場合は種別キーから導出される。
	DisplayNamePlural string
	// GroupByTypeOnly は対象参照を無視して種別のみでグルーピングするかどうか。
	GroupByTypeOnly bool
	// AlwaysIndividual はグルーピングを完全に無効化するかどうか。
	// trueの場合、他のグルーピング関連フィールドは参照されない。
	AlwaysIndividual bool
	// MessageTemplatePlural は要約通知のメッセージテンプレート。
	MessageTemplatePlural string
	// MessageTemplateIndividual は個別通知のメッセージテンプレート。
	// 集約エンジンは個別通知を原文のまま通すため、レジストリ上の保持のみ。
	MessageTemplateIndividual string
	// ContextPhraseTemplate は対象エンティティ名を埋め込む文脈句のテンプレート。
	// {entity_title} を参照する。
	ContextPhraseTemplate string
	// MessagePrefixToStrip は要約前に本文から取り除く接頭辞。
	MessagePrefixToStrip string
	// EntityModelName は表示名を解決する対象エンティティのモデル名。
	EntityModelName string
	// EntityTitleAttribute は表示名として使用する属性名。
	// 空の場合は既定の候補順（first_name+last_name → name → title → description）で探索する。
	EntityTitleAttribute string
}

// Aggregated は集約結果の1エントリ。個別通知の素通しか、
// 4件以上をまとめた要約通知のいずれかである。
type Aggregated struct {
	// ID は通知の一意識別子。要約通知の場合は最新メンバーのID。
	ID string `json:"id"`
	// Type は通知の種別キー。
	Type string `json:"notification_type"`
	// Message は原文または合成された要約文。
	Message string `json:"message"`
	// URL は通知から遷移する先のディープリンク。
	URL string `json:"url,omitempty"`
	// CreatedAt は作成日時。要約通知の場合はメンバー中の最新日時。
	CreatedAt time.Time `json:"created_at"`
	// IsRead は既読状態。要約通知の場合は全メンバーが既読のときのみtrue。
	IsRead bool `json:"is_read"`
	// GroupIDs は要約通知に含まれる全メンバーのID。個別通知では空。
	// 呼び出し元がグループ一括既読に使用する。
	GroupIDs []string `json:"group_ids,omitempty"`
}

// refKind はグルーピングキーの判別子の種類を表す。
type refKind int

const (
	// refTypeOnly は種別のみでグルーピングすることを表す。
	refTypeOnly refKind = iota
	// refBulletinPost は掲示板投稿を対象とするグルーピングを表す。
	refBulletinPost
	// refEvent はイベントを対象とするグルーピングを表す。
	refEvent
	// refPayment は会費を対象とするグルーピングを表す。
	refPayment
	// refPaymentItem は会費明細を対象とするグルーピングを表す。
	refPaymentItem
	// refVerifiedUser は本人確認対象の部員を対象とするグルーピングを表す。
	refVerifiedUser
	// refOwnerUser は対象参照を持たない通知を部員所有者でグルーピングすることを表す。
	refOwnerUser
	// refOwnerAdmin は対象参照を持たない通知を管理者所有者でグルーピングすることを表す。
	refOwnerAdmin
	// refOwnerOrganization は対象参照を持たない通知を団体所有者でグルーピングすることを表す。
	refOwnerOrganization
)

// entityModel は対象参照の種類に対応するエンティティのモデル名を返す。
// 所有者参照はエンティティ解決の対象外のため空文字列を返す。
func (k refKind) entityModel() string {
	switch k {
	case refBulletinPost:
		return "BulletinPost"
	case refEvent:
		return "Event"
	case refPayment:
		return "Payment"
	case refPaymentItem:
		return "PaymentItem"
	case refVerifiedUser:
		return "User"
	default:
		return ""
	}
}

// groupKey はグルーピングバケットを識別するタグ付きキー。
// 文字列連結ではなく構造体にすることで、判別子の種類ごとの分岐を
// 網羅的かつテスト可能に保つ。
type groupKey struct {
	// notificationType は通知の種別キー。
	notificationType string
	// kind は判別子の種類。
	kind refKind
	// id は判別子の参照ID。kindがrefTypeOnlyの場合は空文字列。
	id string
}

// subjectRef はレコードの対象参照を返す。
// 最初に設定されている対象参照フィールドを優先順に採用する。
func subjectRef(r Record) (refKind, string, bool) {
	switch {
	case r.BulletinPostID != "":
		return refBulletinPost, r.BulletinPostID, true
	case r.EventID != "":
		return refEvent, r.EventID, true
	case r.PaymentID != "":
		return refPayment, r.PaymentID, true
	case r.PaymentItemID != "":
		return refPaymentItem, r.PaymentItemID, true
	case r.VerifiedUserID != "":
		return refVerifiedUser, r.VerifiedUserID, true
	default:
		return refTypeOnly, "", false
	}
}

// ownerRef はレコードの所有者参照を返す。
// 対象参照を持たないレコードのグルーピングのフォールバックとして使用する。
func ownerRef(r Record) (refKind, string) {
	switch {
	case r.UserID != "":
		return refOwnerUser, r.UserID
	case r.AdminID != "":
		return refOwnerAdmin, r.AdminID
	default:
		return refOwnerOrganization, r.OrganizationID
	}
}

// deriveGroupKey はレコードとその種別設定からグルーピングキーを導出する。
func deriveGroupKey(r Record, cfg TypeConfig) groupKey {
	if cfg.GroupByTypeOnly {
		return groupKey{notificationType: r.Type, kind: refTypeOnly}
	}
	if kind, id, ok := subjectRef(r); ok {
		return groupKey{notificationType: r.Type, kind: kind, id: id}
	}
	kind, id := ownerRef(r)
	return groupKey{notificationType: r.Type, kind: kind, id: id}
}

// parsedRecord は作成日時の解析を済ませた内部表現。
type parsedRecord struct {
	Record
	at time.Time
}

// createdAtLayouts は作成日時テキストとして受理するレイアウト。
// SQLiteのdatetime('now')形式とRFC3339形式の両方を扱う。
var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseCreatedAt は作成日時の生テキストを解析する。
func parseCreatedAt(s string) (time.Time, error) {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("作成日時を解析できません: %q", s)
}

// TitleResolver はエンティティの表示名解決に使用するフィールド射影を
// モデル名ごとに一括取得する。集約エンジンはモデル名ごとに1回だけ呼び出す。
// 戻り値はID→フィールド名→値の射影であり、存在しないIDは含まれなくてよい。
type TitleResolver interface {
	ResolveTitles(ctx context.Context, modelName string, ids []string) (map[string]map[string]string, error)
}

// Aggregate は生の通知レコードの一覧を表示用の通知一覧に集約する。
//
// レコードは種別設定に従ってバケットに分配され、4件以上のバケットは
// 1件の要約通知に畳み込まれる。要約文の生成に必要なエンティティ表示名は
// resolverを通じてモデル名ごとに1回の一括問い合わせで取得する。
// 結果は作成日時の降順で返す。同時刻のレコードはIDの降順で安定に並ぶ。
//
// 入力の不備（解析不能な作成日時・不正なテンプレート・未解決のエンティティ）は
// いずれも警告ログと既定値へのフォールバックで処理され、エラーにはならない。
func Aggregate(ctx context.Context, records []Record, configs map[string]TypeConfig, resolver TitleResolver) []Aggregated {
	parsed := make([]parsedRecord, 0, len(records))
	for _, r := range records {
		at, err := parseCreatedAt(r.CreatedAt)
		if err != nil {
			log.Printf("[WARN] 通知 %s をスキップします: %v", r.ID, err)
			continue
		}
		parsed = append(parsed, parsedRecord{Record: r, at: at})
	}

	// 先に(作成日時降順, ID降順)で並べておくことで、バケット内の順序と
	// 同時刻レコードの順序が入力順に依存しなくなる。
	sort.Slice(parsed, func(i, j int) bool {
		if !parsed[i].at.Equal(parsed[j].at) {
			return parsed[i].at.After(parsed[j].at)
		}
		return parsed[i].ID > parsed[j].ID
	})

	var individual []parsedRecord
	buckets := make(map[groupKey][]parsedRecord)
	var bucketOrder []groupKey
	for _, p := range parsed {
		cfg, ok := configs[p.Type]
		if !ok || cfg.AlwaysIndividual {
			individual = append(individual, p)
			continue
		}
		key := deriveGroupKey(p.Record, cfg)
		if _, exists := buckets[key]; !exists {
			bucketOrder = append(bucketOrder, key)
		}
		buckets[key] = append(buckets[key], p)
	}

	titles := prefetchTitles(ctx, buckets, configs, resolver)

	entries := make([]Aggregated, 0, len(parsed))
	for _, p := range individual {
		entries = append(entries, passThrough(p))
	}
	for _, key := range bucketOrder {
		members := buckets[key]
		if len(members) < groupThreshold {
			for _, p := range members {
				entries = append(entries, passThrough(p))
			}
			continue
		}
		entries = append(entries, synthesize(key, members, configs[key.notificationType], titles))
	}

	// 作成日時のみをキーにした安定ソート。事前の決定的な並びが
	// 同時刻エントリの順序として保存される。
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries
}

// passThrough は1件のレコードをそのまま表示用エントリに変換する。
func passThrough(p parsedRecord) Aggregated {
	return Aggregated{
		ID:        p.ID,
		Type:      p.Type,
		Message:   p.Message,
		URL:       p.URL,
		CreatedAt: p.at,
		IsRead:    p.IsRead,
	}
}

// prefetchTitles は要約文の生成に必要なエンティティ表示名の射影を
// モデル名ごとに1回の一括問い合わせで取得する。
// N+1問い合わせの回避は頻繁にポーリングされる一覧APIの必須特性である。
func prefetchTitles(ctx context.Context, buckets map[groupKey][]parsedRecord, configs map[string]TypeConfig, resolver TitleResolver) map[string]map[string]map[string]string {
	needed := make(map[string]map[string]struct{})
	for key := range buckets {
		cfg := configs[key.notificationType]
		if cfg.EntityModelName == "" {
			continue
		}
		model := key.kind.entityModel()
		if model == "" || model != cfg.EntityModelName {
			continue
		}
		if needed[model] == nil {
			needed[model] = make(map[string]struct{})
		}
		needed[model][key.id] = struct{}{}
	}

	titles := make(map[string]map[string]map[string]string, len(needed))
	for model, idSet := range needed {
		ids := make([]string, 0, len(idSet))
		for id := range idSet {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		resolved, err := resolver.ResolveTitles(ctx, model, ids)
		if err != nil {
			log.Printf("[WARN] モデル %s の表示名解決に失敗: %v", model, err)
			continue
		}
		titles[model] = resolved
	}
	return titles
}

// titleFieldCandidates は表示名の属性が設定されていない場合に探索する候補。
// first_name+last_name の2部名を最優先し、以降は単一フィールドを順に試す。
var titleFieldCandidates = []string{"name", "title", "description"}

// resolveTitle は射影から表示名を選び出す。
// どの候補にも該当しない場合は欠落を示すプレースホルダを返す。
func resolveTitle(attr, model, id string, fields map[string]string) string {
	if fields != nil {
		if attr != "" {
			if v := fields[attr]; v != "" {
				return v
			}
		} else {
			first, last := fields["first_name"], fields["last_name"]
			if first != "" && last != "" {
				return first + " " + last
			}
			for _, candidate := range titleFieldCandidates {
				if v := fields[candidate]; v != "" {
					return v
				}
			}
		}
	}
	return fmt.Sprintf("Unknown %s (ID: %s)", model, id)
}

// placeholderPattern はテンプレート中の {name} 形式のプレースホルダ。
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// renderTemplate はテンプレート中のプレースホルダを変数で置換する。
// 未定義のプレースホルダを参照している場合はエラーを返し、
// 呼び出し元が既定のフォーマットにフォールバックできるようにする。
func renderTemplate(tmpl string, vars map[string]string) (string, error) {
	var missing string
	result := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("テンプレートが未定義のプレースホルダ {%s} を参照しています", missing)
	}
	return result, nil
}

// synthesize は4件以上のバケットを1件の要約通知に畳み込む。
// membersは(作成日時降順, ID降順)で並んでいることを前提とする。
func synthesize(key groupKey, members []parsedRecord, cfg TypeConfig, titles map[string]map[string]map[string]string) Aggregated {
	contextPhrase := buildContextPhrase(key, cfg, titles)

	// 本文の完全一致で重複を除き、新しい順に最大3件を要約に採用する。
	seen := make(map[string]struct{}, len(members))
	var uniques []string
	for _, m := range members {
		if _, dup := seen[m.Message]; dup {
			continue
		}
		seen[m.Message] = struct{}{}
		uniques = append(uniques, m.Message)
	}

	shown := len(uniques)
	if shown > summaryItemLimit {
		shown = summaryItemLimit
	}
	items := make([]string, 0, shown)
	for _, msg := range uniques[:shown] {
		items = append(items, summarizeItem(msg, cfg.MessagePrefixToStrip))
	}

	summaryItems := joinSummaryItems(items)
	remaining := len(uniques) - shown
	withOthers := summaryItems
	if remaining > 0 {
		withOthers += fmt.Sprintf(" and %d other%s", remaining, pluralSuffix(remaining))
	}

	total := len(members)
	displayName := cfg.DisplayNamePlural
	if displayName == "" {
		displayName = strings.ToLower(strings.ReplaceAll(key.notificationType, "_", " "))
	}

	vars := map[string]string{
		"count":                     strconv.Itoa(total),
		"display_name_plural":       displayName,
		"context_phrase":            contextPhrase,
		"summary_items":             summaryItems,
		"summary_items_with_others": withOthers,
		"remaining_count":           strconv.Itoa(remaining),
		"s_suffix":                  pluralSuffix(total),
	}

	message := ""
	if cfg.MessageTemplatePlural != "" {
		rendered, err := renderTemplate(cfg.MessageTemplatePlural, vars)
		if err != nil {
			log.Printf("[WARN] 種別 %s の要約テンプレートが不正なため既定の書式を使用します: %v", key.notificationType, err)
		} else {
			message = rendered
		}
	}
	if message == "" {
		message = fmt.Sprintf("%d %s%s: %s.", total, displayName, contextPhrase, withOthers)
	}

	latest := members[0]
	allRead := true
	groupIDs := make([]string, 0, total)
	for _, m := range members {
		groupIDs = append(groupIDs, m.ID)
		if !m.IsRead {
			allRead = false
		}
	}

	return Aggregated{
		ID:        latest.ID,
		Type:      key.notificationType,
		Message:   message,
		URL:       latest.URL,
		CreatedAt: latest.at,
		IsRead:    allRead,
		GroupIDs:  groupIDs,
	}
}

// buildContextPhrase は要約文に埋め込む文脈句を組み立てる。
// 対象エンティティが特定できない場合は空文字列を返す。
func buildContextPhrase(key groupKey, cfg TypeConfig, titles map[string]map[string]map[string]string) string {
	if cfg.EntityModelName == "" {
		return ""
	}
	model := key.kind.entityModel()
	if model == "" || model != cfg.EntityModelName {
		return ""
	}

	title := resolveTitle(cfg.EntityTitleAttribute, model, key.id, titles[model][key.id])
	if cfg.ContextPhraseTemplate != "" {
		phrase, err := renderTemplate(cfg.ContextPhraseTemplate, map[string]string{"entity_title": title})
		if err == nil {
			return phrase
		}
		log.Printf("[WARN] 種別 %s の文脈句テンプレートが不正なため既定の書式を使用します: %v", key.notificationType, err)
	}
	return " for " + title
}

// summarizeItem は要約に並べる本文1件を整形する。
// 接頭辞の除去・先頭文字の大文字化・最大長への切り詰めを行う。
func summarizeItem(msg, prefixToStrip string) string {
	if prefixToStrip != "" {
		msg = strings.TrimPrefix(msg, prefixToStrip)
	}

	runes := []rune(msg)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	if len(runes) > summaryItemMaxLen {
		return string(runes[:summaryItemMaxLen]) + "..."
	}
	return string(runes)
}

// joinSummaryItems は要約本文の一覧を英語の列挙形式で連結する。
// 1件はそのまま、2件は "A and B"、3件は "A, B, and C" となる。
func joinSummaryItems(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

// pluralSuffix は英語の複数形接尾辞を返す。
func pluralSuffix(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
