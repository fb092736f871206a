package security

import "vulnvault/internal/model"

var (
	langJS     = []model.Language{model.LanguageJavaScript, model.LanguageTypeScript}
	langPython = []model.Language{model.LanguagePython}
	langGo     = []model.Language{model.LanguageGo}
	langJava   = []model.Language{model.LanguageJava, model.LanguageKotlin}
	langPHP    = []model.Language{model.LanguagePHP}
	langRuby   = []model.Language{model.LanguageRuby}
	langCSharp = []model.Language{model.LanguageCSharp}

	// languages where + concatenates strings
	langConcat = []model.Language{
		model.LanguageJavaScript, model.LanguageTypeScript, model.LanguageJava, model.LanguageKotlin,
		model.LanguageGo, model.LanguagePython, model.LanguageRuby, model.LanguageCSharp,
		model.LanguageCPP, model.LanguageSwift,
	}
)

const sqlVerb = `(?:SELECT\s|INSERT\s+INTO|UPDATE\s+\w+\s+SET|DELETE\s+FROM|REPLACE\s+INTO|DROP\s+TABLE)`

// signatures is the built-in pattern table. Order is detection order.
var signatures = []Signature{
	// sql_injection
	{
		ID: "sql-string-concat", Category: model.CategorySQLInjection, Severity: model.SeverityHigh,
		Languages:   langConcat,
		Pattern:     `(?i)["'\x60]\s*` + sqlVerb + `[^"'\x60]*["'\x60]\s*\+\s*[A-Za-z_$(]`,
		Description: "SQL query built by concatenating a string with a variable",
	},
	{
		ID: "sql-template-literal", Category: model.CategorySQLInjection, Severity: model.SeverityHigh,
		Languages:   langJS,
		Pattern:     `(?i)\x60\s*` + sqlVerb + `[^\x60]*\$\{`,
		Unless:      `\bsql\x60`,
		Description: "SQL query built with template literal interpolation",
	},
	{
		ID: "sql-python-format", Category: model.CategorySQLInjection, Severity: model.SeverityHigh,
		Languages:   langPython,
		Pattern:     `(?i)(?:\bf["']\s*` + sqlVerb + `[^"']*\{|["']\s*` + sqlVerb + `[^"']*["']\s*(?:%\s*[\w(]|\.format\())`,
		Description: "SQL query built with string formatting",
	},
	{
		ID: "sql-go-sprintf", Category: model.CategorySQLInjection, Severity: model.SeverityHigh,
		Languages:   langGo,
		Pattern:     `(?i)fmt\.Sprintf\(\s*["\x60]\s*` + sqlVerb + `[^"\x60]*%[sdvq]`,
		Description: "SQL query built with fmt.Sprintf",
	},
	{
		ID: "sql-php-interpolation", Category: model.CategorySQLInjection, Severity: model.SeverityHigh,
		Languages:   langPHP,
		Pattern:     `(?i)(?:"\s*` + sqlVerb + `[^"]*\$\w|["']\s*` + sqlVerb + `[^"']*["']\s*\.\s*\$\w)`,
		Description: "SQL query built from an interpolated PHP variable",
	},

	// command_injection
	{
		ID: "cmd-node-exec", Category: model.CategoryCommandInjection, Severity: model.SeverityHigh,
		Languages:   langJS,
		Pattern:     `(?:^|[^\w$.]|child_process\.|cp\.)(?:exec|execSync|spawn|spawnSync|execFile|execFileSync)\s*\(\s*(?:["'\x60][^"'\x60]*["'\x60]\s*\+|\x60[^\x60]*\$\{|[A-Za-z_$][\w$.]*\s*\+)`,
		Description: "Shell command built from a variable and passed to child_process",
	},
	{
		ID: "cmd-python-shell", Category: model.CategoryCommandInjection, Severity: model.SeverityHigh,
		Languages:   langPython,
		Pattern:     `\b(?:os\.system|os\.popen|subprocess\.(?:call|run|Popen|check_output|check_call))\s*\(\s*(?:f["']|["'][^"']*["']\s*(?:\+|%|\.format)|[A-Za-z_][\w.]*\s*\+)`,
		Description: "Shell command built from a variable and executed",
	},
	{
		ID: "cmd-python-shell-true", Category: model.CategoryCommandInjection, Severity: model.SeverityHigh,
		Languages:   langPython,
		Pattern:     `\bsubprocess\.\w+\(.*\bshell\s*=\s*True`,
		Description: "subprocess call with shell=True",
	},
	{
		ID: "cmd-go-exec", Category: model.CategoryCommandInjection, Severity: model.SeverityHigh,
		Languages:   langGo,
		Pattern:     `exec\.Command(?:Context)?\((?:[^)]*"\s*\+\s*\w|[^)]*"-c"\s*,\s*[A-Za-z_])`,
		Description: "Command line built from a variable and run through os/exec",
	},
	{
		ID: "cmd-java-runtime", Category: model.CategoryCommandInjection, Severity: model.SeverityHigh,
		Languages:   langJava,
		Pattern:     `Runtime\.getRuntime\(\)\.exec\([^)]*\+`,
		Description: "Runtime.exec with a concatenated command line",
	},
	{
		ID: "cmd-php-exec", Category: model.CategoryCommandInjection, Severity: model.SeverityHigh,
		Languages:   langPHP,
		Pattern:     `\b(?:system|exec|shell_exec|passthru|popen|proc_open)\s*\([^)]*\$\w`,
		Description: "Shell command built from a PHP variable",
	},
	{
		ID: "cmd-ruby-interpolation", Category: model.CategoryCommandInjection, Severity: model.SeverityHigh,
		Languages:   langRuby,
		Pattern:     `(?:\b(?:system|exec|spawn)\s*\(?\s*"[^"]*#\{|%x[\(\[{][^\)\]}]*#\{|\x60[^\x60]*#\{)`,
		Description: "Shell command built with Ruby string interpolation",
	},

	// unsafe_eval
	{
		ID: "eval-js", Category: model.CategoryUnsafeEval, Severity: model.SeverityHigh,
		Languages:   langJS,
		Pattern:     `(?:(?:^|[^\w$.])eval\s*\(\s*[^)"'\x60\s]|\bnew\s+Function\s*\(|\bset(?:Timeout|Interval)\s*\(\s*[A-Za-z_$][\w$.]*\s*\+)`,
		Description: "Dynamic code evaluation with a non-constant argument",
	},
	{
		ID: "eval-python", Category: model.CategoryUnsafeEval, Severity: model.SeverityHigh,
		Languages:   langPython,
		Pattern:     `(?:^|[^\w.])(?:eval|exec)\s*\(\s*[^)"'\s]`,
		Description: "Dynamic code evaluation with a non-constant argument",
	},
	{
		ID: "eval-php", Category: model.CategoryUnsafeEval, Severity: model.SeverityHigh,
		Languages:   langPHP,
		Pattern:     `\b(?:eval|assert|create_function)\s*\(\s*\$`,
		Description: "Dynamic code evaluation of a PHP variable",
	},
	{
		ID: "eval-ruby", Category: model.CategoryUnsafeEval, Severity: model.SeverityHigh,
		Languages:   langRuby,
		Pattern:     `\b(?:eval|instance_eval|class_eval|module_eval)\b\s*\(?\s*[a-z_@]`,
		Description: "Dynamic code evaluation with a non-constant argument",
	},

	// xss
	{
		ID: "xss-inner-html", Category: model.CategoryXSS, Severity: model.SeverityMedium,
		Languages:   langJS,
		Pattern:     `\.(?:innerHTML|outerHTML)\s*\+?=\s*[^"'\x60\s;]`,
		Unless:      `(?i)(?:DOMPurify\.sanitize|escapeHtml|sanitize)\s*\(`,
		Description: "Untrusted value assigned to innerHTML",
	},
	{
		ID: "xss-document-write", Category: model.CategoryXSS, Severity: model.SeverityMedium,
		Languages:   langJS,
		Pattern:     `\bdocument\.write(?:ln)?\s*\(\s*[^)"'\x60\s]`,
		Description: "Untrusted value written with document.write",
	},
	{
		ID: "xss-react-dangerous", Category: model.CategoryXSS, Severity: model.SeverityMedium,
		Languages:   langJS,
		Pattern:     `dangerouslySetInnerHTML\s*=\s*\{\{\s*__html\s*:\s*[^"'\x60\s}]`,
		Unless:      `(?i)sanitize\s*\(`,
		Description: "Untrusted value rendered through dangerouslySetInnerHTML",
	},
	{
		ID: "xss-insert-adjacent", Category: model.CategoryXSS, Severity: model.SeverityMedium,
		Languages:   langJS,
		Pattern:     `\.insertAdjacentHTML\s*\(\s*["'][^"']+["']\s*,\s*[^"'\x60\s)]`,
		Description: "Untrusted value inserted with insertAdjacentHTML",
	},
	{
		ID: "xss-php-echo", Category: model.CategoryXSS, Severity: model.SeverityMedium,
		Languages:   langPHP,
		Pattern:     `\b(?:echo|print)\s*\(?\s*\$_(?:GET|POST|REQUEST|COOKIE)\b`,
		Description: "Request parameter echoed without escaping",
	},
	{
		ID: "xss-python-markup", Category: model.CategoryXSS, Severity: model.SeverityMedium,
		Languages:   langPython,
		Pattern:     `\b(?:mark_safe|Markup)\s*\(\s*(?:f["']|[A-Za-z_])`,
		Description: "Untrusted value marked as safe HTML",
	},

	// path_traversal: language-agnostic on purpose, so config and unknown
	// files are covered too.
	{
		ID: "path-concat", Category: model.CategoryPathTraversal, Severity: model.SeverityMedium,
		Pattern:     `\b(?:readFile|readFileSync|createReadStream|writeFile|writeFileSync|createWriteStream|unlink|unlinkSync|sendFile|open|fopen|file_get_contents|file_put_contents|include|require_once|Open|ReadFile|OpenFile|File|FileInputStream|FileReader)\s*\(\s*["'\x60][^"'\x60]*["'\x60]\s*(?:\+|\.)\s*\$?[A-Za-z_]`,
		Description: "File path built by concatenating user-controlled input",
	},
	{
		ID: "path-join-request", Category: model.CategoryPathTraversal, Severity: model.SeverityMedium,
		Pattern:     `\b(?:path\.(?:join|resolve)|os\.path\.join|filepath\.Join|Paths\.get|Path\.Combine)\s*\([^)]*\b(?:req|request|r)\.(?:params|query|body|args|form|files|GET|POST|URL|FormValue)`,
		Description: "File path joined with a request parameter",
	},

	// weak_crypto
	{
		ID: "crypto-node-hash", Category: model.CategoryWeakCrypto, Severity: model.SeverityMedium,
		Languages:   langJS,
		Pattern:     `(?i)create(?:Hash|Hmac)\(\s*["'](?:md5|md4|sha1|ripemd160)["']|createCipher(?:iv)?\(\s*["'](?:des|des-ede3?|rc4|bf|aes-\d+-ecb)`,
		Description: "Broken hash or cipher algorithm",
	},
	{
		ID: "crypto-python", Category: model.CategoryWeakCrypto, Severity: model.SeverityMedium,
		Languages:   langPython,
		Pattern:     `\bhashlib\.(?:md5|sha1)\s*\(|\bhashlib\.new\(\s*["'](?:md5|sha1|md4)["']|\b(?:DES|ARC4|Blowfish)\.new\(|\bAES\.MODE_ECB\b`,
		Unless:      `usedforsecurity\s*=\s*False`,
		Description: "Broken hash or cipher algorithm",
	},
	{
		ID: "crypto-java", Category: model.CategoryWeakCrypto, Severity: model.SeverityMedium,
		Languages:   langJava,
		Pattern:     `MessageDigest\.getInstance\(\s*"(?i:MD5|MD2|SHA-?1)"|Cipher\.getInstance\(\s*"(?i:DES|RC4|DESede|[^"]*/ECB/)`,
		Description: "Broken hash or cipher algorithm",
	},
	{
		ID: "crypto-go", Category: model.CategoryWeakCrypto, Severity: model.SeverityMedium,
		Languages:   langGo,
		Pattern:     `\b(?:md5|sha1)\.(?:New|Sum)\(|\bdes\.New(?:TripleDES)?Cipher\(|\brc4\.NewCipher\(`,
		Description: "Broken hash or cipher algorithm",
	},
	{
		ID: "crypto-php", Category: model.CategoryWeakCrypto, Severity: model.SeverityMedium,
		Languages:   langPHP,
		Pattern:     `\b(?:md5|sha1|crypt)\s*\(\s*\$|\bhash\(\s*["'](?:md5|sha1)["']`,
		Description: "Broken hash algorithm",
	},
	{
		ID: "crypto-ruby", Category: model.CategoryWeakCrypto, Severity: model.SeverityMedium,
		Languages:   langRuby,
		Pattern:     `\bDigest::(?:MD5|SHA1)\b|OpenSSL::Cipher.*(?i:des|rc4|ecb)`,
		Description: "Broken hash or cipher algorithm",
	},
	{
		ID: "crypto-dotnet", Category: model.CategoryWeakCrypto, Severity: model.SeverityMedium,
		Languages:   langCSharp,
		Pattern:     `\b(?:MD5|SHA1|DES|RC2|TripleDES)\.Create\(|new\s+(?:MD5|SHA1|DES|RC2)CryptoServiceProvider\b`,
		Description: "Broken hash or cipher algorithm",
	},

	// insecure_randomness: only where the surrounding code looks like it
	// generates a credential.
	{
		ID: "random-js", Category: model.CategoryInsecureRandomness, Severity: model.SeverityLow,
		Languages:   langJS,
		Pattern:     `\bMath\.random\s*\(`,
		Near:        securityContext, NearLines: 3,
		Description: "Math.random used to generate a security-sensitive value",
	},
	{
		ID: "random-python", Category: model.CategoryInsecureRandomness, Severity: model.SeverityLow,
		Languages:   langPython,
		Pattern:     `\brandom\.(?:random|randint|randrange|choice|choices|getrandbits|sample)\s*\(`,
		Near:        securityContext, NearLines: 3,
		Description: "random module used to generate a security-sensitive value",
	},
	{
		ID: "random-java", Category: model.CategoryInsecureRandomness, Severity: model.SeverityLow,
		Languages:   langJava,
		Pattern:     `\bnew\s+Random\s*\(|\bMath\.random\s*\(`,
		Near:        securityContext, NearLines: 3,
		Description: "java.util.Random used to generate a security-sensitive value",
	},
	{
		ID: "random-go", Category: model.CategoryInsecureRandomness, Severity: model.SeverityLow,
		Languages:   langGo,
		Pattern:     `\brand\.(?:Intn|Int63|Int63n|Int31|Int31n|Uint32|Uint64|Float64|Perm|Shuffle|Int)\(`,
		Unless:      `rand\.Reader`,
		Near:        securityContext, NearLines: 3,
		Description: "math/rand used to generate a security-sensitive value",
	},
	{
		ID: "random-php", Category: model.CategoryInsecureRandomness, Severity: model.SeverityLow,
		Languages:   langPHP,
		Pattern:     `\b(?:rand|mt_rand|uniqid|lcg_value)\s*\(`,
		Near:        securityContext, NearLines: 3,
		Description: "Non-cryptographic PRNG used to generate a security-sensitive value",
	},
	{
		ID: "random-ruby", Category: model.CategoryInsecureRandomness, Severity: model.SeverityLow,
		Languages:   langRuby,
		Pattern:     `(?:^|[^\w.])rand\s*\(|\bRandom\.(?:rand|new)\b`,
		Near:        securityContext, NearLines: 3,
		Description: "Non-cryptographic PRNG used to generate a security-sensitive value",
	},

	// prototype_pollution (the loop-shaped variant is a custom matcher)
	{
		ID: "proto-deep-merge-request", Category: model.CategoryPrototypePollution, Severity: model.SeverityMedium,
		Languages:   langJS,
		Pattern:     `(?:\b_\.(?:merge|mergeWith|defaultsDeep|set)\s*\(|\$\.extend\(\s*true\s*,)[^)]*\b(?:req|request)\.(?:body|query|params)`,
		Description: "Deep merge of request data into an object",
	},

	// insecure_cookie
	{
		ID: "cookie-document", Category: model.CategoryInsecureCookie, Severity: model.SeverityLow,
		Languages:   langJS,
		Pattern:     `\bdocument\.cookie\s*=`,
		Unless:      `(?i);\s*secure|samesite`,
		Description: "Cookie set from script without the Secure attribute",
	},
	{
		ID: "cookie-express", Category: model.CategoryInsecureCookie, Severity: model.SeverityLow,
		Languages:   langJS,
		Pattern:     `\bres\.cookie\s*\(|\bsecure\s*:\s*false\b|\bhttpOnly\s*:\s*false\b`,
		Unless:      `\bsecure\s*:\s*true\b`,
		Description: "Cookie configured without the Secure or HttpOnly flag",
	},
	{
		ID: "cookie-python", Category: model.CategoryInsecureCookie, Severity: model.SeverityLow,
		Languages:   langPython,
		Pattern:     `\.set_cookie\s*\(|\b(?:SESSION_COOKIE_SECURE|CSRF_COOKIE_SECURE|SESSION_COOKIE_HTTPONLY)\s*=\s*False`,
		Unless:      `secure\s*=\s*True`,
		Description: "Cookie configured without the Secure or HttpOnly flag",
	},
	{
		ID: "cookie-php", Category: model.CategoryInsecureCookie, Severity: model.SeverityLow,
		Languages:   langPHP,
		Pattern:     `\bsetcookie\s*\(`,
		Unless:      `(?i)\btrue\b|["']secure["']`,
		Description: "Cookie set without the Secure flag",
	},
	{
		ID: "cookie-go", Category: model.CategoryInsecureCookie, Severity: model.SeverityLow,
		Languages:   langGo,
		Pattern:     `\bSecure\s*:\s*false\b|\bHttpOnly\s*:\s*false\b`,
		Description: "Cookie configured without the Secure or HttpOnly flag",
	},

	// insecure_transport
	{
		ID: "transport-plain-http", Category: model.CategoryInsecureTransport, Severity: model.SeverityLow,
		Languages:   langConcat,
		Pattern:     `["'\x60]http://[A-Za-z0-9.-]+`,
		Unless:      `(?i)http://(?:localhost|127\.\d+\.\d+\.\d+|0\.0\.0\.0|\[::1\]|[\w.-]*example\.(?:com|org|net)|www\.w3\.org|schemas\.|xmlns|[\w.-]+\.local\b)`,
		Description: "Plain HTTP URL used for a remote endpoint",
	},
	{
		ID: "transport-tls-verify-off", Category: model.CategoryInsecureTransport, Severity: model.SeverityLow,
		Pattern:     `\bInsecureSkipVerify\s*:\s*true\b|\bverify\s*=\s*False\b|\brejectUnauthorized\s*:\s*false\b|NODE_TLS_REJECT_UNAUTHORIZED["']?\]?\s*=\s*["']?0|CURLOPT_SSL_VERIFYPEER\s*,\s*(?:false|0)\b`,
		Description: "TLS certificate verification disabled",
	},

	// insecure_deserialization
	{
		ID: "deser-python", Category: model.CategoryInsecureDeserialization, Severity: model.SeverityHigh,
		Languages:   langPython,
		Pattern:     `\b(?:c?[Pp]ickle|dill|shelve|marshal)\.loads?\s*\(|\byaml\.(?:load|load_all)\s*\(|\byaml\.unsafe_load\s*\(`,
		Unless:      `Loader\s*=\s*(?:yaml\.)?C?SafeLoader`,
		Description: "Native deserialization of potentially untrusted data",
	},
	{
		ID: "deser-java", Category: model.CategoryInsecureDeserialization, Severity: model.SeverityHigh,
		Languages:   langJava,
		Pattern:     `\bnew\s+ObjectInputStream\s*\(|\bXMLDecoder\s*\(|\.readObject\s*\(\s*\)`,
		Description: "Java object deserialization of potentially untrusted data",
	},
	{
		ID: "deser-php", Category: model.CategoryInsecureDeserialization, Severity: model.SeverityHigh,
		Languages:   langPHP,
		Pattern:     `\bunserialize\s*\(\s*\$`,
		Description: "unserialize called on a variable",
	},
	{
		ID: "deser-ruby", Category: model.CategoryInsecureDeserialization, Severity: model.SeverityHigh,
		Languages:   langRuby,
		Pattern:     `\bMarshal\.load\s*\(|\bYAML\.load\s*\(`,
		Unless:      `safe_load`,
		Description: "Native deserialization of potentially untrusted data",
	},
	{
		ID: "deser-node", Category: model.CategoryInsecureDeserialization, Severity: model.SeverityHigh,
		Languages:   langJS,
		Pattern:     `require\(\s*["']node-serialize["']\s*\)|\bserialize\.unserialize\s*\(`,
		Description: "node-serialize can execute code embedded in serialized data",
	},
}

// securityContext matches identifiers that suggest a value is used as a
// credential.
const securityContext = `(?i)token|session|secret|passw|nonce|salt|csrf|otp|apikey|api_key|auth|credential|reset|verif`
