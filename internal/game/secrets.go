package game

import (
	"crypto/rand"
	"math/big"

	"github.com/impostor-party/impostor/internal/protocol"
)

// codeAlphabet excludes visually ambiguous glyphs (I, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newRoomCode generates a 5-character code, retrying until it does not
// collide with a live room. taken is called with the candidate code.
func newRoomCode(taken func(string) bool) string {
	for {
		buf := make([]byte, protocol.CodeLength)
		for i := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
			if err != nil {
				panic("crypto/rand failure: " + err.Error())
			}
			buf[i] = codeAlphabet[n.Int64()]
		}
		code := string(buf)
		if !taken(code) {
			return code
		}
	}
}

// secretPool is the fixed set of identities innocents share. Impostors
// never see the chosen entry until the game ends.
var secretPool = []string{
	"Lionel Messi", "Kylian Mbappe", "Erling Haaland", "Vinicius Junior",
	"Mohamed Salah", "Harry Kane", "Jude Bellingham", "Lautaro Martinez",
	"Antoine Griezmann", "Robert Lewandowski", "Son Heung-min", "Bukayo Saka",
	"Jamal Musiala", "Florian Wirtz", "Rafael Leao", "Khvicha Kvaratskhelia",
	"Rodrygo", "Ousmane Dembele", "Leroy Sane", "Kingsley Coman",
	"Marcus Rashford", "Jack Grealish", "Christopher Nkunku", "Kai Havertz",
	"Joao Felix", "Darwin Nunez", "Victor Osimhen", "Alexander Isak",
	"Randal Kolo Muani", "Dusan Vlahovic", "Alvaro Morata", "Federico Chiesa",
	"Julian Alvarez", "Paulo Dybala", "Angel Di Maria", "Kenan Yildiz",
	"Kevin De Bruyne", "Bernardo Silva", "Martin Odegaard", "Bruno Fernandes",
	"Federico Valverde", "Pedri", "Gavi", "Frenkie de Jong",
	"Ilkay Gundogan", "Toni Kroos", "Luka Modric", "Declan Rice",
	"Casemiro", "Adrien Rabiot", "Nicolo Barella", "Hakan Calhanoglu",
	"Sandro Tonali", "James Maddison", "Mason Mount", "Dominik Szoboszlai",
	"Dani Olmo", "Aurelien Tchouameni", "Eduardo Camavinga", "Marco Verratti",
	"Martin Zubimendi", "Mikel Merino", "Alexis Mac Allister", "Enzo Fernandez",
	"Moises Caicedo", "Joao Palhinha", "Teun Koopmeiners", "Scott McTominay",
	"Weston McKennie", "Christian Pulisic", "Luis Diaz", "Rodrigo De Paul",
	"Virgil van Dijk", "Ruben Dias", "Marquinhos", "Eder Militao",
	"David Alaba", "William Saliba", "Josko Gvardiol", "Antonio Rudiger",
	"Matthijs de Ligt", "Milan Skriniar", "Kim Min-jae", "Dayot Upamecano",
	"Ronald Araujo", "Jules Kounde", "Raphael Varane", "Pau Cubarsi",
	"Alejandro Balde", "Giovanni Di Lorenzo", "Joshua Kimmich", "Leon Goretzka",
	"Benjamin Pavard", "Raphael Guerreiro", "Joao Cancelo", "Trent Alexander-Arnold",
	"Andrew Robertson", "Achraf Hakimi", "Theo Hernandez", "Alphonso Davies",
	"Reece James", "Dani Carvajal", "Emiliano Dibu Martinez", "Thibaut Courtois",
	"Alisson Becker", "Ederson", "Mike Maignan", "Marc-Andre ter Stegen",
	"Jan Oblak", "Andre Onana", "Diogo Costa", "Yassine Bounou",
	"Nico Williams", "Alejandro Garnacho", "Cole Palmer", "Xavi Simons",
	"Rodrigo Bentancur", "Joao Neves", "Lamine Yamal",
}

// pickSecret draws a uniform-random entry, never repeating the previous
// secret when the pool allows it.
func pickSecret(prev string) string {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(secretPool))))
		if err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		secret := secretPool[n.Int64()]
		if secret != prev || len(secretPool) == 1 {
			return secret
		}
	}
}
