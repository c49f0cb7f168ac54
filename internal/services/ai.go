package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/models"
	"github.com/retava/chatdesk/internal/pkg/logger"
)

// Supported reply locales. ZH is the default when the heuristic is unsure.
const (
	LangEN = "en"
	LangZH = "zh"
)

// Intent categories produced by the keyword classifier.
const (
	IntentProductInquiry      = "product_inquiry"
	IntentOrder               = "order"
	IntentDeliveryInquiry     = "delivery_inquiry"
	IntentOrderStatus         = "order_status"
	IntentComplaint           = "complaint"
	IntentHumanSupportRequest = "human_support_request"
	IntentGeneralInquiry      = "general_inquiry"
	IntentError               = "error"
)

// Product search outcomes recorded in response metadata. The model is told
// which one applies because it changes how honest the reply has to be.
const (
	ProductSearchFound   = "found"
	ProductSearchNone    = "none_found"
	ProductSearchFailed  = "search_failed"
	ProductSearchSkipped = "skipped"
	metadataSearchStatus = "productSearchStatus"
	metadataSearchMethod = "productSearchMethod"
	metadataLanguage     = "language"
)

// Response is the orchestrator's uniform output. Process always returns a
// well-formed Response, even when everything inside went wrong.
type Response struct {
	Text              string
	Confidence        float64
	Intent            string
	RequiresHuman     bool
	SuggestedProducts []models.Product
	Metadata          map[string]string
}

// AIService classifies intent, gathers product and knowledge context, and
// drives the language model to produce a reply.
type AIService struct {
	resolver    *ProductResolver
	knowledge   *KnowledgeRetriever
	llm         core.LLMProvider
	store       core.Store
	log         *logger.Logger
	companyName string
}

func NewAIService(resolver *ProductResolver, knowledge *KnowledgeRetriever, llm core.LLMProvider, store core.Store, log *logger.Logger, companyName string) *AIService {
	return &AIService{
		resolver:    resolver,
		knowledge:   knowledge,
		llm:         llm,
		store:       store,
		log:         log,
		companyName: companyName,
	}
}

// Process runs the full response pipeline for one inbound message. It never
// propagates a failure: any unexpected error or panic yields a localized
// apology with intent "error" and RequiresHuman set.
func (a *AIService) Process(ctx context.Context, message string, convCtx *ConversationContext) (resp Response) {
	lang := a.detectAndPersistLanguage(ctx, message, convCtx)

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("orchestrator panic recovered", "panic", r)
			resp = fallbackResponse(lang)
		}
	}()

	intent := ClassifyIntent(message)

	productContext := ""
	searchStatus := ProductSearchSkipped
	searchMethod := MethodNone
	var suggested []models.Product

	if intent == IntentProductInquiry || intent == IntentOrder {
		result, failed := a.resolveProducts(ctx, message)
		switch {
		case failed || result.Failed:
			searchStatus = ProductSearchFailed
			productContext = searchUnavailableNotice(lang)
		case len(result.Products) > 0:
			searchStatus = ProductSearchFound
			searchMethod = result.Method
			suggested = result.Products
			productContext = "Matching products:\n" + FormatProductList(result.Products, lang)
		default:
			searchStatus = ProductSearchNone
			productContext = FormatProductList(nil, lang)
		}
	}

	// Knowledge retrieval always runs; a broken product search must not
	// block it.
	knowledgeContext := a.knowledge.BuildContext(ctx, message, "")

	systemPrompt := a.buildSystemPrompt(lang, convCtx, knowledgeContext)
	userPrompt := message
	if productContext != "" {
		userPrompt = message + "\n\n" + productContext
	}

	history := buildHistory(convCtx)
	reply, err := a.llm.Complete(ctx, systemPrompt, history, userPrompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			a.log.Error("llm completion failed", "error", err)
		}
		return fallbackResponse(lang)
	}

	confidence := scoreConfidence(intent, len(suggested) > 0, knowledgeContext != "")
	requiresHuman := NeedsEscalation(message, reply, convCtx.Customer)

	return Response{
		Text:              reply,
		Confidence:        confidence,
		Intent:            intent,
		RequiresHuman:     requiresHuman,
		SuggestedProducts: suggested,
		Metadata: map[string]string{
			metadataSearchStatus: searchStatus,
			metadataSearchMethod: searchMethod,
			metadataLanguage:     lang,
		},
	}
}

// resolveProducts shields the pipeline from a resolver that blows up
// entirely. The bool reports total failure as opposed to a clean miss.
func (a *AIService) resolveProducts(ctx context.Context, message string) (result ResolveResult, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("product resolver panic recovered", "panic", r)
			result = ResolveResult{Method: MethodNone}
			failed = true
		}
	}()
	result = a.resolver.Resolve(ctx, message, 5)
	return result, false
}

// Language detection: explicit marker prefix beats an explicit keyword
// request, which beats the stored preference, which beats the rune-ratio
// heuristic. A changed preference is persisted before the pipeline continues.
func (a *AIService) detectAndPersistLanguage(ctx context.Context, message string, convCtx *ConversationContext) string {
	var stored *string
	if convCtx != nil && convCtx.Customer != nil {
		stored = convCtx.Customer.PreferredLanguage
	}

	lang := DetectLanguage(message, stored)

	if convCtx != nil && convCtx.Customer != nil && (stored == nil || *stored != lang) {
		if err := a.store.UpdateCustomerLanguage(ctx, convCtx.Customer.Phone, lang); err != nil {
			a.log.Warn("language preference update failed", "phone", convCtx.Customer.Phone, "error", err)
		}
		convCtx.Customer.PreferredLanguage = &lang
	}
	return lang
}

// DetectLanguage resolves the reply locale for one message.
func DetectLanguage(message string, stored *string) string {
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "en:"):
		return LangEN
	case strings.HasPrefix(lower, "zh:"), strings.HasPrefix(trimmed, "中文:"):
		return LangZH
	}

	for _, kw := range []string{"in english", "speak english", "english please", "reply in english"} {
		if strings.Contains(lower, kw) {
			return LangEN
		}
	}
	for _, kw := range []string{"说中文", "用中文", "中文回复"} {
		if strings.Contains(trimmed, kw) {
			return LangZH
		}
	}

	if stored != nil && (*stored == LangEN || *stored == LangZH) {
		return *stored
	}

	alpha, cjk := 0, 0
	for _, r := range trimmed {
		switch {
		case unicode.Is(unicode.Han, r):
			cjk++
		case unicode.IsLetter(r):
			alpha++
		}
	}
	// Mostly-Latin text reads as English; anything else defaults to Chinese.
	if alpha > 3*cjk && alpha > 0 {
		return LangEN
	}
	return LangZH
}

// Ordered intent rules; first match wins, more specific categories first.
// No scoring and no tie-breaking by design.
var intentRules = []struct {
	intent   string
	keywords []string
}{
	{IntentHumanSupportRequest, []string{
		"human", "real person", "agent", "customer service rep",
		"人工", "真人", "转人工", "客服人员",
	}},
	{IntentComplaint, []string{
		"complaint", "complain", "refund", "terrible", "awful", "angry", "disappointed", "worst",
		"投诉", "退款", "太差", "生气", "不满", "差评",
	}},
	{IntentOrderStatus, []string{
		"order status", "my order", "track", "where is my order",
		"订单状态", "我的订单", "查订单", "到哪了",
	}},
	{IntentDeliveryInquiry, []string{
		"delivery", "shipping", "ship to", "freight",
		"配送", "发货", "运费", "快递", "送货",
	}},
	{IntentOrder, []string{
		"buy", "purchase", "order", "i want to get",
		"下单", "购买", "我要买", "订购",
	}},
	{IntentProductInquiry, []string{
		"price", "product", "do you have", "how much", "stock", "available",
		"产品", "价格", "多少钱", "有没有", "有货", "型号",
	}},
}

// ClassifyIntent buckets a message into one category via the ordered
// keyword rules, defaulting to general_inquiry.
func ClassifyIntent(message string) string {
	lower := strings.ToLower(message)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent
			}
		}
	}
	return IntentGeneralInquiry
}

var humanSupportKeywords = []string{
	"human", "real person", "agent", "customer service rep",
	"人工", "真人", "转人工", "客服人员",
}

var complaintKeywords = []string{
	"complaint", "complain", "refund", "terrible", "awful", "angry", "disappointed", "worst",
	"投诉", "退款", "太差", "生气", "不满", "差评",
}

var hedgingPhrases = []string{
	"i'm not sure", "i am not sure", "i don't know", "i cannot help", "i'm unable",
	"不确定", "我不知道", "无法回答", "无法确定",
}

// NeedsEscalation ORs the independent escalation triggers: an explicit
// human-support request, a complaint, the customer's persisted flag, or
// hedging in the model's own reply. Any one suffices.
func NeedsEscalation(message, reply string, customer *models.Customer) bool {
	lowerMsg := strings.ToLower(message)
	for _, kw := range humanSupportKeywords {
		if strings.Contains(lowerMsg, kw) {
			return true
		}
	}
	for _, kw := range complaintKeywords {
		if strings.Contains(lowerMsg, kw) {
			return true
		}
	}
	if customer != nil && customer.NeedsHuman {
		return true
	}
	lowerReply := strings.ToLower(reply)
	for _, kw := range hedgingPhrases {
		if strings.Contains(lowerReply, kw) {
			return true
		}
	}
	return false
}

// scoreConfidence builds the heuristic [0,1] score: 0.5 base, +0.2 for a
// specific intent, +0.2 when products were found, +0.1 for knowledge
// context, clamped to 1.0.
func scoreConfidence(intent string, foundProducts, foundKnowledge bool) float64 {
	score := 0.5
	if intent != IntentGeneralInquiry && intent != IntentError {
		score += 0.2
	}
	if foundProducts {
		score += 0.2
	}
	if foundKnowledge {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (a *AIService) buildSystemPrompt(lang string, convCtx *ConversationContext, knowledgeContext string) string {
	var customerName, customerState string
	if convCtx != nil && convCtx.Customer != nil {
		customerName = convCtx.Customer.Name
		customerState = convCtx.Customer.ConversationState
	}

	var b strings.Builder
	if lang == LangZH {
		fmt.Fprintf(&b, "你是%s的客服助手，负责回答产品、订单和配送问题。\n", a.companyName)
		fmt.Fprintf(&b, "当前客户: %s (状态: %s)\n", customerName, customerState)
		if knowledgeContext != "" {
			b.WriteString(knowledgeContext)
			b.WriteString("\n")
		}
		b.WriteString("请用简洁友好的中文回复。只依据提供的产品和知识信息回答；如果信息不足，请如实说明，不要编造。")
	} else {
		fmt.Fprintf(&b, "You are a customer service assistant for %s, answering product, order, and delivery questions.\n", a.companyName)
		fmt.Fprintf(&b, "Current customer: %s (state: %s)\n", customerName, customerState)
		if knowledgeContext != "" {
			b.WriteString(knowledgeContext)
			b.WriteString("\n")
		}
		b.WriteString("Reply concisely and politely in English. Answer only from the provided product and knowledge information; if you lack the information, say so honestly instead of inventing it.")
	}
	return b.String()
}

func searchUnavailableNotice(lang string) string {
	if lang == LangZH {
		return "[系统提示] 产品搜索暂时不可用，请如实告知客户目前无法查询产品，并建议稍后再试。"
	}
	return "[System notice] Product search is temporarily unavailable. Tell the customer honestly that product lookup is not working right now and suggest trying again later."
}

func buildHistory(convCtx *ConversationContext) []core.ChatTurn {
	if convCtx == nil {
		return nil
	}
	turns := make([]core.ChatTurn, 0, len(convCtx.RecentMessages))
	for _, m := range convCtx.RecentMessages {
		role := "model"
		if m.Direction == models.DirectionIncoming {
			role = "user"
		}
		turns = append(turns, core.ChatTurn{Role: role, Content: m.Content})
	}
	return turns
}

// fallbackResponse is the fixed localized apology used whenever the
// pipeline cannot produce a real reply.
func fallbackResponse(lang string) Response {
	text := "Sorry, something went wrong on our side. A support agent will follow up with you shortly."
	if lang == LangZH {
		text = "抱歉，系统暂时出现问题，稍后会有客服人员与您联系。"
	}
	return Response{
		Text:          text,
		Confidence:    0,
		Intent:        IntentError,
		RequiresHuman: true,
		Metadata: map[string]string{
			metadataSearchStatus: ProductSearchSkipped,
			metadataSearchMethod: MethodNone,
			metadataLanguage:     lang,
		},
	}
}
